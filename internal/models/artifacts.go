package models

// Artifact models are the intermediate pipeline outputs. Every artifact row
// is owned by exactly one job; deleting the job deletes them. Stages write
// them in a single transaction and readers always see committed state.

// SilenceRegion is a detected silent span on the original timeline.
// Regions are non-overlapping and sorted by start.
type SilenceRegion struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	// Start and End are seconds on the original timeline.
	Start float64 `gorm:"not null" json:"start"`
	End   float64 `gorm:"not null" json:"end"`

	// ThresholdDB is the detection threshold in dBFS that produced this
	// region.
	ThresholdDB float64 `json:"threshold_db"`
}

func (SilenceRegion) TableName() string { return "silence_regions" }

// TranscriptSegment is a remapped speech segment on the original timeline.
type TranscriptSegment struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	Start float64 `gorm:"not null" json:"start"`
	End   float64 `gorm:"not null" json:"end"`
	Text  string  `gorm:"size:4096" json:"text"`

	// Confidence is the model's own estimate, when it reports one.
	Confidence *float64 `json:"confidence,omitempty"`
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }

// LayoutType classifies how screen and camera share the frame.
type LayoutType string

const (
	LayoutSideBySide       LayoutType = "side_by_side"
	LayoutPictureInPicture LayoutType = "picture_in_picture"
	LayoutScreenOnly       LayoutType = "screen_only"
	LayoutCameraOnly       LayoutType = "camera_only"
	LayoutUnknown          LayoutType = "unknown"
)

// Region is a rectangle in source pixels.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// LayoutAnalysis is the single per-job frame-layout record.
type LayoutAnalysis struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);uniqueIndex" json:"job_id"`

	LayoutType LayoutType `gorm:"not null;size:30" json:"layout_type"`

	ScreenRegion Region `gorm:"embedded;embeddedPrefix:screen_" json:"screen_region"`
	CameraRegion Region `gorm:"embedded;embeddedPrefix:camera_" json:"camera_region"`

	// SplitRatio is the horizontal share of the frame occupied by the
	// screen region, in [0,1].
	SplitRatio float64 `json:"split_ratio"`

	// Confidence of the classification, in [0,1]. Zero for the safe
	// fallback.
	Confidence float64 `json:"confidence"`
}

func (LayoutAnalysis) TableName() string { return "layout_analyses" }

// SlideContent is a per-frame vision extraction record, produced only in
// vision mode.
type SlideContent struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	// Timestamp is where on the original timeline the frame was sampled.
	Timestamp float64 `gorm:"not null" json:"timestamp"`

	TextBlocks     []string `gorm:"serializer:json" json:"text_blocks"`
	VisualElements []string `gorm:"serializer:json" json:"visual_elements"`
	KeyConcepts    []string `gorm:"serializer:json" json:"key_concepts"`
}

func (SlideContent) TableName() string { return "slide_contents" }

// ContentSegment is a topical span identified by content analysis.
// Segments for a job are chronological and non-overlapping.
type ContentSegment struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	Start float64 `gorm:"not null" json:"start"`
	End   float64 `gorm:"not null" json:"end"`

	Topic       string `gorm:"not null;size:100" json:"topic"`
	Description string `gorm:"size:2048" json:"description,omitempty"`

	// Importance in [0,1]; segments below the configured threshold are
	// never persisted.
	Importance float64 `gorm:"not null" json:"importance"`

	Keywords []string `gorm:"serializer:json" json:"keywords,omitempty"`
	Concepts []string `gorm:"serializer:json" json:"concepts,omitempty"`

	// Order is the sequential chronological index assigned on write.
	Order int `gorm:"column:seq_order;not null" json:"order"`
}

func (ContentSegment) TableName() string { return "content_segments" }

// Duration returns End - Start in seconds.
func (s *ContentSegment) Duration() float64 {
	return s.End - s.Start
}

// Clip is a selected highlight. SegmentSelect writes the selection fields;
// CompileClips fills the artifact fields after encoding and upload.
type Clip struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	Start    float64 `gorm:"not null" json:"start"`
	End      float64 `gorm:"not null" json:"end"`
	Duration float64 `gorm:"not null" json:"duration"`

	// Order ranks clips by importance, starting at 1.
	Order int `gorm:"column:seq_order;not null" json:"order"`

	Title      string  `gorm:"size:255" json:"title"`
	Importance float64 `json:"importance"`

	// StartAdjusted / EndAdjusted record which boundaries were snapped to
	// a silence edge.
	StartAdjusted bool `json:"start_adjusted"`
	EndAdjusted   bool `json:"end_adjusted"`

	// Compilation outputs. Empty until CompileClips succeeds for this clip.
	BlobKey      string `gorm:"size:512" json:"blob_key,omitempty"`
	ThumbnailKey string `gorm:"size:512" json:"thumbnail_key,omitempty"`
	SubtitleKey  string `gorm:"size:512" json:"subtitle_key,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

func (Clip) TableName() string { return "clips" }

// Compiled reports whether the clip has a compiled media file.
func (c *Clip) Compiled() bool {
	return c.BlobKey != ""
}

// JobSummary is the per-job lecture summary generated during content
// analysis. Optional: absent when summary generation was degraded away.
type JobSummary struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);uniqueIndex" json:"job_id"`

	Overview  string   `gorm:"size:8192" json:"overview"`
	KeyPoints []string `gorm:"serializer:json" json:"key_points,omitempty"`
}

func (JobSummary) TableName() string { return "job_summaries" }

// QuizQuestion is one generated comprehension question for a job.
type QuizQuestion struct {
	BaseModel

	JobID ULID `gorm:"not null;type:varchar(26);index" json:"job_id"`

	Question string   `gorm:"size:2048" json:"question"`
	Options  []string `gorm:"serializer:json" json:"options"`
	Answer   string   `gorm:"size:512" json:"answer"`

	// Order is the presentation index, starting at 1.
	Order int `gorm:"column:seq_order;not null" json:"order"`
}

func (QuizQuestion) TableName() string { return "quiz_questions" }

// PrincipalCredential stores a principal's model API key encrypted with
// AES-GCM under the service master key. Decrypted only at submit time.
type PrincipalCredential struct {
	BaseModel

	PrincipalID string `gorm:"not null;size:128;uniqueIndex" json:"principal_id"`

	Ciphertext []byte `gorm:"not null" json:"-"`
	Nonce      []byte `gorm:"not null" json:"-"`
}

func (PrincipalCredential) TableName() string { return "principal_credentials" }

// All returns every model for auto-migration.
func All() []any {
	return []any{
		&Job{},
		&SilenceRegion{},
		&TranscriptSegment{},
		&LayoutAnalysis{},
		&SlideContent{},
		&ContentSegment{},
		&Clip{},
		&JobSummary{},
		&QuizQuestion{},
		&PrincipalCredential{},
	}
}
