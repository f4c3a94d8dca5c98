package a2a

// A2A method names, exactly as they appear on the wire.  Task methods
// ride the tasks/ prefix, knowledge graph methods the knowledge/ one.
const (
	MethodTaskSend            = "tasks/send"
	MethodTaskSendSubscribe   = "tasks/sendSubscribe"
	MethodTaskGet             = "tasks/get"
	MethodTaskCancel          = "tasks/cancel"
	MethodTaskResubscribe     = "tasks/resubscribe"
	MethodPushNotificationSet = "tasks/pushNotification/set"
	MethodPushNotificationGet = "tasks/pushNotification/get"
	MethodKnowledgeQuery      = "knowledge/query"
	MethodKnowledgeUpdate     = "knowledge/update"
	MethodKnowledgeSubscribe  = "knowledge/subscribe"
)

// AgentCardPath is the well-known discovery location every A2A server
// publishes its card under.
const AgentCardPath = "/.well-known/agent.json"
