package a2a

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/a2a-core/pkg/utils"
)

func TestUpsertArtifact(t *testing.T) {
	Convey("Given a task without artifacts", t, func() {
		task := NewTask("task-1")

		Convey("When an artifact without index or name arrives", func() {
			merged := task.UpsertArtifact(NewTextArtifact("", "hello"))

			So(task.Artifacts, ShouldHaveLength, 1)
			So(merged.Parts[0].Text, ShouldEqual, "hello")
		})

		Convey("When two artifacts with the same index arrive", func() {
			first := NewTextArtifact("r.txt", "AB")
			first.Index = utils.Ptr(0)
			first.Append = utils.Ptr(false)
			task.UpsertArtifact(first)

			update := Artifact{
				Index:  utils.Ptr(0),
				Append: utils.Ptr(true),
				Parts:  []Part{NewTextPart("CD")},
			}
			merged := task.UpsertArtifact(update)

			Convey("Then the parts are extended in place", func() {
				So(task.Artifacts, ShouldHaveLength, 1)
				So(merged.Parts, ShouldHaveLength, 2)
				So(merged.Parts[0].Text, ShouldEqual, "AB")
				So(merged.Parts[1].Text, ShouldEqual, "CD")
				So(*merged.Name, ShouldEqual, "r.txt")
			})
		})

		Convey("When the update matches by name without append", func() {
			task.UpsertArtifact(NewTextArtifact("report", "draft one"))
			merged := task.UpsertArtifact(NewTextArtifact("report", "draft two"))

			Convey("Then the artifact is replaced wholesale", func() {
				So(task.Artifacts, ShouldHaveLength, 1)
				So(merged.Parts, ShouldHaveLength, 1)
				So(merged.Parts[0].Text, ShouldEqual, "draft two")
			})
		})

		Convey("When an append update carries metadata and lastChunk", func() {
			base := NewTextArtifact("log", "line1")
			base.Index = utils.Ptr(2)
			base.Metadata = map[string]any{"kind": "log", "rev": 1}
			task.UpsertArtifact(base)

			update := Artifact{
				Index:       utils.Ptr(2),
				Append:      utils.Ptr(true),
				Parts:       []Part{NewTextPart("line2")},
				Metadata:    map[string]any{"rev": 2},
				Description: utils.Ptr("rolling log"),
				LastChunk:   utils.Ptr(true),
			}
			merged := task.UpsertArtifact(update)

			Convey("Then metadata merges and description and lastChunk are overwritten", func() {
				So(merged.Metadata["kind"], ShouldEqual, "log")
				So(merged.Metadata["rev"], ShouldEqual, 2)
				So(*merged.Description, ShouldEqual, "rolling log")
				So(*merged.LastChunk, ShouldBeTrue)
			})
		})

		Convey("When artifacts arrive with out-of-order indexes", func() {
			third := NewTextArtifact("c", "3")
			third.Index = utils.Ptr(2)
			first := NewTextArtifact("a", "1")
			first.Index = utils.Ptr(0)
			second := NewTextArtifact("b", "2")
			second.Index = utils.Ptr(1)

			task.UpsertArtifact(third)
			task.UpsertArtifact(first)
			task.UpsertArtifact(second)

			Convey("Then the collection is sorted by index ascending", func() {
				So(task.Artifacts, ShouldHaveLength, 3)
				So(*task.Artifacts[0].Index, ShouldEqual, 0)
				So(*task.Artifacts[1].Index, ShouldEqual, 1)
				So(*task.Artifacts[2].Index, ShouldEqual, 2)
			})
		})

		Convey("When the same update sequence is applied to two equal tasks", func() {
			updates := []Artifact{
				func() Artifact {
					a := NewTextArtifact("r.txt", "AB")
					a.Index = utils.Ptr(0)
					return a
				}(),
				{Index: utils.Ptr(0), Append: utils.Ptr(true), Parts: []Part{NewTextPart("CD")}},
				func() Artifact {
					a := NewTextArtifact("other", "X")
					a.Index = utils.Ptr(1)
					return a
				}(),
			}

			other := NewTask("task-2")

			for _, update := range updates {
				task.UpsertArtifact(update)
				other.UpsertArtifact(update)
			}

			Convey("Then both tasks hold equal artifact lists", func() {
				So(other.Artifacts, ShouldResemble, task.Artifacts)
			})
		})
	})

	Convey("Given a task with an existing artifact", t, func() {
		task := NewTask("task-3")
		task.UpsertArtifact(NewTextArtifact("keep", "original"))

		Convey("When the merged result is mutated by the caller", func() {
			merged := task.UpsertArtifact(Artifact{
				Name:   utils.Ptr("keep"),
				Append: utils.Ptr(true),
				Parts:  []Part{NewTextPart(" more")},
			})
			merged.Parts[0].Text = "tampered"

			Convey("Then the stored artifact is unaffected", func() {
				So(task.Artifacts[0].Parts[0].Text, ShouldEqual, "original")
			})
		})
	})
}
