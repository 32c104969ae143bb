package types

import "strings"

// FileCategory is a coarse grouping of files by what they contain,
// derived from the file extension at inventory time.
type FileCategory string

const (
	CategoryData         FileCategory = "data"
	CategoryDocuments    FileCategory = "documents"
	CategorySpreadsheets FileCategory = "spreadsheets"
	CategoryImages       FileCategory = "images"
	CategoryCode         FileCategory = "code"
	CategorySlides       FileCategory = "slides"
	CategoryVideo        FileCategory = "video"
	CategoryArchives     FileCategory = "archives"
	CategoryOther        FileCategory = "other"
)

var categoryByExt = map[string]FileCategory{
	".abf":  CategoryData,
	".smr":  CategoryData,
	".smrx": CategoryData,
	".edf":  CategoryData,
	".mat":  CategoryData,
	".nwb":  CategoryData,
	".h5":   CategoryData,
	".hdf5": CategoryData,
	".npz":  CategoryData,
	".npy":  CategoryData,

	".txt":  CategoryDocuments,
	".md":   CategoryDocuments,
	".doc":  CategoryDocuments,
	".docx": CategoryDocuments,
	".pdf":  CategoryDocuments,
	".rtf":  CategoryDocuments,
	".log":  CategoryDocuments,

	".csv":  CategorySpreadsheets,
	".tsv":  CategorySpreadsheets,
	".xls":  CategorySpreadsheets,
	".xlsx": CategorySpreadsheets,

	".png":  CategoryImages,
	".jpg":  CategoryImages,
	".jpeg": CategoryImages,
	".tif":  CategoryImages,
	".tiff": CategoryImages,
	".svg":  CategoryImages,

	".py":    CategoryCode,
	".m":     CategoryCode,
	".r":     CategoryCode,
	".ipynb": CategoryCode,
	".go":    CategoryCode,

	".ppt":  CategorySlides,
	".pptx": CategorySlides,

	".avi": CategoryVideo,
	".mp4": CategoryVideo,
	".mov": CategoryVideo,
	".wmv": CategoryVideo,

	".zip": CategoryArchives,
	".tar": CategoryArchives,
	".gz":  CategoryArchives,
	".7z":  CategoryArchives,
}

// CategoryForExtension maps a file extension (with or without the leading
// dot) to its category. Unknown extensions map to CategoryOther.
func CategoryForExtension(ext string) FileCategory {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if cat, ok := categoryByExt[ext]; ok {
		return cat
	}
	return CategoryOther
}

// CandidateStatus is the review state of a candidate edge.
type CandidateStatus string

const (
	CandidatePending    CandidateStatus = "pending"
	CandidateAccepted   CandidateStatus = "accepted"
	CandidateRejected   CandidateStatus = "rejected"
	CandidateNeedsAudit CandidateStatus = "needs_audit"
)

// Terminal reports whether a status can only be changed by an explicit
// human re-review.
func (s CandidateStatus) Terminal() bool {
	return s == CandidateAccepted || s == CandidateRejected
}

// AuditVerdict is the outcome of an audit pass over a candidate.
type AuditVerdict string

const (
	VerdictAccept        AuditVerdict = "accept"
	VerdictReject        AuditVerdict = "reject"
	VerdictNeedsMoreInfo AuditVerdict = "needs_more_info"
)

// Relation names used by built-in strategies. Strategies may introduce
// their own relation strings; these are the common vocabulary.
const (
	RelationNotesFor     = "notes_for"
	RelationAnalysisOf   = "analysis_of"
	RelationDerivedFrom  = "derived_from"
	RelationSameSession  = "same_session"
	RelationSameAnimal   = "same_animal"
	RelationLogFor       = "log_for"
	RelationMetadataFor  = "metadata_for"
	RelationSurgeryNotes = "surgery_notes_for"
	RelationProtocolFor  = "protocol_for"
	RelationMentions     = "mentions"
	RelationRelatedTo    = "related_to"
)
