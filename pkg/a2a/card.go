package a2a

import (
	"fmt"
	"slices"

	"github.com/spf13/viper"

	"github.com/theapemachine/a2a-core/pkg/utils"
)

type AgentAuthentication struct {
	// Schemes is a list of supported authentication schemes
	Schemes []string `json:"schemes"`
	// Credentials for authentication. Can be a string (e.g., token) or null if not required initially
	Credentials *string `json:"credentials,omitempty"`
}

// AgentCapabilities describes the capabilities of an agent
type AgentCapabilities struct {
	// Streaming indicates if the agent supports streaming responses
	Streaming bool `json:"streaming,omitempty"`
	// PushNotifications indicates if the agent supports push notification mechanisms
	PushNotifications bool `json:"pushNotifications,omitempty"`
	// StateTransitionHistory indicates if the agent supports providing state transition history
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
	// KnowledgeGraph indicates if the agent exposes the knowledge/* methods
	KnowledgeGraph bool `json:"knowledgeGraph,omitempty"`
	// KnowledgeGraphQueryLanguages lists the query languages knowledge/query accepts
	KnowledgeGraphQueryLanguages []string `json:"knowledgeGraphQueryLanguages,omitempty"`
}

// SupportsQueryLanguage reports whether the given language is declared.
func (caps *AgentCapabilities) SupportsQueryLanguage(lang string) bool {
	return slices.Contains(caps.KnowledgeGraphQueryLanguages, lang)
}

// AgentProvider represents the provider or organization behind an agent
type AgentProvider struct {
	// Organization is the name of the organization providing the agent
	Organization string `json:"organization"`
	// URL associated with the agent provider
	URL *string `json:"url,omitempty"`
}

// AgentSkill defines a specific skill or capability offered by an agent
type AgentSkill struct {
	// ID is the unique identifier for the skill
	ID string `json:"id"`
	// Name is the human-readable name of the skill
	Name string `json:"name"`
	// Description is an optional description of the skill
	Description *string `json:"description,omitempty"`
	// Tags is an optional list of tags associated with the skill for categorization
	Tags []string `json:"tags,omitempty"`
	// Examples is an optional list of example inputs or use cases for the skill
	Examples []string `json:"examples,omitempty"`
	// InputModes is an optional list of input modes supported by this skill
	InputModes []string `json:"inputModes,omitempty"`
	// OutputModes is an optional list of output modes supported by this skill
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCard represents the metadata card for an agent
type AgentCard struct {
	// Name is the name of the agent
	Name string `json:"name"`
	// Description is an optional description of the agent
	Description *string `json:"description,omitempty"`
	// URL is the base URL endpoint for interacting with the agent
	URL string `json:"url"`
	// Provider is information about the provider of the agent
	Provider *AgentProvider `json:"provider,omitempty"`
	// Version is the version identifier for the agent or its API
	Version string `json:"version"`
	// DocumentationURL is an optional URL pointing to the agent's documentation
	DocumentationURL *string `json:"documentationUrl,omitempty"`
	// Capabilities are the capabilities supported by the agent
	Capabilities AgentCapabilities `json:"capabilities"`
	// Authentication details required to interact with the agent
	Authentication *AgentAuthentication `json:"authentication,omitempty"`
	// DefaultInputModes are the default input modes supported by the agent
	DefaultInputModes []string `json:"defaultInputModes,omitempty"`
	// DefaultOutputModes are the default output modes supported by the agent
	DefaultOutputModes []string `json:"defaultOutputModes,omitempty"`
	// Skills is the list of specific skills offered by the agent
	Skills []AgentSkill `json:"skills"`
}

/*
NewAgentCardFromConfig builds a card from the viper config under
`agent.<key>`.  A card declaring knowledgeGraph always advertises
graphql, whatever the config says, because that is the executor the
runtime ships.
*/
func NewAgentCardFromConfig(key string) *AgentCard {
	v := viper.GetViper()
	skillArray := v.GetStringSlice(fmt.Sprintf("agent.%s.skills", key))

	skills := make([]AgentSkill, len(skillArray))

	for i, skill := range skillArray {
		skills[i] = NewSkillFromConfig(skill)
	}

	card := &AgentCard{
		Name:    v.GetString(fmt.Sprintf("agent.%s.name", key)),
		Version: v.GetString(fmt.Sprintf("agent.%s.version", key)),
		URL:     v.GetString(fmt.Sprintf("agent.%s.url", key)),
		Provider: &AgentProvider{
			Organization: v.GetString(fmt.Sprintf("agent.%s.provider.organization", key)),
			URL:          utils.Ptr(v.GetString(fmt.Sprintf("agent.%s.provider.url", key))),
		},
		Description:      utils.Ptr(v.GetString(fmt.Sprintf("agent.%s.description", key))),
		DocumentationURL: utils.Ptr(v.GetString(fmt.Sprintf("agent.%s.documentationUrl", key))),
		Capabilities: AgentCapabilities{
			Streaming:                    v.GetBool(fmt.Sprintf("agent.%s.capabilities.streaming", key)),
			PushNotifications:            v.GetBool(fmt.Sprintf("agent.%s.capabilities.pushNotifications", key)),
			StateTransitionHistory:       v.GetBool(fmt.Sprintf("agent.%s.capabilities.stateTransitionHistory", key)),
			KnowledgeGraph:               v.GetBool(fmt.Sprintf("agent.%s.capabilities.knowledgeGraph", key)),
			KnowledgeGraphQueryLanguages: v.GetStringSlice(fmt.Sprintf("agent.%s.capabilities.knowledgeGraphQueryLanguages", key)),
		},
		Authentication: &AgentAuthentication{
			Schemes:     v.GetStringSlice(fmt.Sprintf("agent.%s.authentication.schemes", key)),
			Credentials: utils.Ptr(v.GetString(fmt.Sprintf("agent.%s.authentication.credentials", key))),
		},
		DefaultInputModes:  v.GetStringSlice(fmt.Sprintf("agent.%s.defaultInputModes", key)),
		DefaultOutputModes: v.GetStringSlice(fmt.Sprintf("agent.%s.defaultOutputModes", key)),
		Skills:             skills,
	}

	if card.Capabilities.KnowledgeGraph &&
		!card.Capabilities.SupportsQueryLanguage(QueryLanguageGraphQL) {
		card.Capabilities.KnowledgeGraphQueryLanguages = append(
			card.Capabilities.KnowledgeGraphQueryLanguages, QueryLanguageGraphQL)
	}

	return card
}

func NewSkillFromConfig(skill string) AgentSkill {
	v := viper.GetViper()

	return AgentSkill{
		ID:          v.GetString(fmt.Sprintf("skills.%s.id", skill)),
		Name:        v.GetString(fmt.Sprintf("skills.%s.name", skill)),
		Description: utils.Ptr(v.GetString(fmt.Sprintf("skills.%s.description", skill))),
		Tags:        v.GetStringSlice(fmt.Sprintf("skills.%s.tags", skill)),
		Examples:    v.GetStringSlice(fmt.Sprintf("skills.%s.examples", skill)),
		InputModes:  v.GetStringSlice(fmt.Sprintf("skills.%s.input_modes", skill)),
		OutputModes: v.GetStringSlice(fmt.Sprintf("skills.%s.output_modes", skill)),
	}
}
