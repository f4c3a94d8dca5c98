package a2a

import (
	"cmp"
	"slices"
)

/*
Artifact is the output of a task.  Within one task an artifact is keyed
by Index when set, otherwise by Name; an update matching an existing
key either replaces it wholesale or, with Append, extends its parts.
LastChunk marks the final update of a chunked artifact stream.
*/
type Artifact struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Index       *int           `json:"index,omitempty"`
	Append      *bool          `json:"append,omitempty"`
	LastChunk   *bool          `json:"lastChunk,omitempty"`
}

func NewTextArtifact(name string, text string) Artifact {
	return Artifact{
		Name:  &name,
		Parts: []Part{NewTextPart(text)},
	}
}

func NewFileArtifact(name string, mimeType string, data string) Artifact {
	return Artifact{
		Name: &name,
		Parts: []Part{
			{
				Type: PartTypeFile,
				File: &FileContent{
					Name:     &name,
					MimeType: &mimeType,
					Bytes:    data,
				},
			},
		},
	}
}

// Clone deep-copies the artifact so merge operations never alias parts
// or metadata between the stored task and an in-flight update.
func (artifact Artifact) Clone() Artifact {
	out := artifact

	out.Parts = make([]Part, len(artifact.Parts))
	copy(out.Parts, artifact.Parts)

	if artifact.Metadata != nil {
		out.Metadata = make(map[string]any, len(artifact.Metadata))
		for k, val := range artifact.Metadata {
			out.Metadata[k] = val
		}
	}

	if artifact.Index != nil {
		idx := *artifact.Index
		out.Index = &idx
	}
	if artifact.Append != nil {
		ap := *artifact.Append
		out.Append = &ap
	}
	if artifact.LastChunk != nil {
		lc := *artifact.LastChunk
		out.LastChunk = &lc
	}
	if artifact.Name != nil {
		name := *artifact.Name
		out.Name = &name
	}
	if artifact.Description != nil {
		desc := *artifact.Description
		out.Description = &desc
	}

	return out
}

/*
UpsertArtifact merges an artifact update into the task and returns the
artifact as stored after the merge.  An update matches an existing
artifact by Index first, then by Name; unmatched updates append as new
artifacts.  When the update carries Append the existing parts are
extended and metadata keys merged, otherwise the matched artifact is
replaced wholesale.  Artifacts with a defined index are kept sorted
ascending, unindexed ones after them in insertion order.
*/
func (task *Task) UpsertArtifact(update Artifact) Artifact {
	update = update.Clone()

	matched := -1

	if update.Index != nil {
		for i := range task.Artifacts {
			if task.Artifacts[i].Index != nil && *task.Artifacts[i].Index == *update.Index {
				matched = i
				break
			}
		}
	}

	if matched < 0 && update.Name != nil {
		for i := range task.Artifacts {
			if task.Artifacts[i].Name != nil && *task.Artifacts[i].Name == *update.Name {
				matched = i
				break
			}
		}
	}

	var merged Artifact

	switch {
	case matched < 0:
		task.Artifacts = append(task.Artifacts, update)
		merged = update
	case update.Append != nil && *update.Append:
		existing := task.Artifacts[matched].Clone()
		existing.Parts = append(existing.Parts, update.Parts...)

		if update.Metadata != nil {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]any, len(update.Metadata))
			}

			for k, val := range update.Metadata {
				existing.Metadata[k] = val
			}
		}

		if update.Description != nil {
			existing.Description = update.Description
		}

		if update.LastChunk != nil {
			existing.LastChunk = update.LastChunk
		}

		task.Artifacts[matched] = existing
		merged = existing
	default:
		task.Artifacts[matched] = update
		merged = update
	}

	for i := range task.Artifacts {
		if task.Artifacts[i].Index == nil {
			continue
		}

		slices.SortStableFunc(task.Artifacts, func(a, b Artifact) int {
			switch {
			case a.Index == nil && b.Index == nil:
				return 0
			case a.Index == nil:
				return 1
			case b.Index == nil:
				return -1
			default:
				return cmp.Compare(*a.Index, *b.Index)
			}
		})

		break
	}

	return merged.Clone()
}
