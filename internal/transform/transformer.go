// Package transform converts raw content items into index documents.
package transform

import (
	"strings"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

// Transformer knows the content and tag index names. Its methods are pure.
type Transformer struct {
	ContentIndex string
	TagIndex     string
}

// New returns a Transformer for the given index names.
func New(contentIndex, tagIndex string) Transformer {
	return Transformer{ContentIndex: contentIndex, TagIndex: tagIndex}
}

// Transform flattens item into a Document for index. The like/dislike ratio is only
// derived for the content index, and only when both counts are present and the
// dislike count is nonzero.
func (t Transformer) Transform(item harvest.RawContentItem, index string) harvest.Document {
	doc := harvest.Document{
		ID:   item.ID,
		Kind: item.Kind,
		ETag: item.ETag,
	}
	if d := item.Descriptive; d != nil {
		doc.Title = d.Title
		doc.Description = d.Description
		doc.ChannelID = d.ChannelID
		doc.ChannelTitle = d.ChannelTitle
		doc.CategoryID = d.CategoryID
		doc.PublishedAt = d.PublishedAt
		doc.Tags = append([]string(nil), d.Tags...)
		doc.DefaultLanguage = d.DefaultLanguage
		doc.LiveBroadcastContent = d.LiveBroadcastContent
		doc.Thumbnail = d.Thumbnail
	}
	if item.Details != nil {
		details := *item.Details
		doc.ContentDetails = &details
	}
	if m := item.Metrics; m != nil {
		doc.Metrics = &harvest.DocumentMetrics{
			ViewCount:     m.ViewCount,
			LikeCount:     m.LikeCount,
			DislikeCount:  m.DislikeCount,
			FavoriteCount: m.FavoriteCount,
			CommentCount:  m.CommentCount,
		}
		if index == t.ContentIndex {
			doc.Metrics.LikeDislikeRatio = likeDislikeRatio(m.LikeCount, m.DislikeCount)
		}
	}
	return doc
}

func likeDislikeRatio(likes, dislikes *int64) *float64 {
	if likes == nil || dislikes == nil || *dislikes == 0 {
		return nil
	}
	ratio := float64(*likes) / float64(*dislikes)
	return &ratio
}

// ExtractTags yields one TagDocument per distinct non-blank tag, in first-seen order.
func (t Transformer) ExtractTags(doc harvest.Document) []harvest.TagDocument {
	if len(doc.Tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(doc.Tags))
	out := make([]harvest.TagDocument, 0, len(doc.Tags))
	for _, tag := range doc.Tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, harvest.TagDocument{Tag: tag})
	}
	return out
}

// Operations builds the bulk batch for items: each content document followed by its
// tag documents. A content id or tag already emitted earlier in the batch is skipped,
// so one bulk request never carries two updates for the same document.
func (t Transformer) Operations(items []harvest.RawContentItem) []harvest.BulkOperation {
	ops := make([]harvest.BulkOperation, 0, len(items)*2)
	seenContent := make(map[string]struct{}, len(items))
	seenTags := make(map[string]struct{})
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := seenContent[item.ID]; ok {
			continue
		}
		seenContent[item.ID] = struct{}{}

		doc := t.Transform(item, t.ContentIndex)
		ops = append(ops, harvest.Upsert(t.ContentIndex, doc.ID, doc))
		for _, tag := range t.ExtractTags(doc) {
			if _, ok := seenTags[tag.Tag]; ok {
				continue
			}
			seenTags[tag.Tag] = struct{}{}
			ops = append(ops, harvest.Upsert(t.TagIndex, tag.ID(), tag))
		}
	}
	return ops
}
