package core

import "sort"

// DocumentVersion is written into every annotation document.
const DocumentVersion = "1.0"

// Document is the portable form of many annotation sets, used for bulk
// download, import and the export side file.
type Document struct {
	Version     string           `json:"version"`
	Annotations []*AnnotationSet `json:"annotations"`
}

// NewDocument returns a document holding sets ordered by series and image.
func NewDocument(sets []*AnnotationSet) Document {
	out := make([]*AnnotationSet, 0, len(sets))
	for _, s := range sets {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SeriesID != out[j].SeriesID {
			return out[i].SeriesID < out[j].SeriesID
		}
		return out[i].ImageIndex < out[j].ImageIndex
	})
	return Document{Version: DocumentVersion, Annotations: out}
}
