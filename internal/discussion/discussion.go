package discussion

// TopicStatus is the lifecycle status of a topic.
type TopicStatus string

const (
	TopicActive   TopicStatus = "active"
	TopicLocked   TopicStatus = "locked"
	TopicArchived TopicStatus = "archived"
)

// RoundStatus is the lifecycle status of a round.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// CommentStatus is the moderation status of a comment.
type CommentStatus string

const (
	CommentActive  CommentStatus = "active"
	CommentRemoved CommentStatus = "removed"
)

// DefaultPositionType is the stance recorded when a comment carries none.
const DefaultPositionType = "neutral"

// Sentiment values a summary may carry.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Topic is a discussion subject with a bounded number of rounds.
// Invariant: 0 <= CurrentRound <= RoundCount <= MaxRounds.
type Topic struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	CreatedBy   string      `json:"created_by"`
	Status      TopicStatus `json:"status"`

	// RoundCount is the number of rounds opened so far
	RoundCount int `json:"round_count"`

	// CurrentRound is the number of the most recently opened round, 0 if none
	CurrentRound int `json:"current_round"`

	MaxRounds        int   `json:"max_rounds"`
	ParticipantCount int   `json:"participant_count"`
	CreatedAt        int64 `json:"created_at"`
}

// IsArchived reports whether the topic accepts no further actions.
func (t *Topic) IsArchived() bool {
	return t.Status == TopicArchived
}

// CanOpenRound reports whether the round ceiling still allows another round.
func (t *Topic) CanOpenRound() bool {
	return t.RoundCount < t.MaxRounds
}

// Round is one bounded window of comment collection within a topic.
type Round struct {
	ID          string      `json:"id"`
	TopicID     string      `json:"topic_id"`
	RoundNumber int         `json:"round_number"`
	Status      RoundStatus `json:"status"`

	CommentCount int `json:"comment_count"`

	// MaxComments is the summarization trigger threshold, not an admission cap
	MaxComments int `json:"max_comments"`

	StartTime int64  `json:"start_time"`
	EndTime   *int64 `json:"end_time,omitempty"`

	// Summarizing is the claim marker held while a summary is being produced
	Summarizing   bool   `json:"summarizing"`
	SummarizingAt *int64 `json:"summarizing_at,omitempty"`
}

// IsActive reports whether the round accepts comments.
func (r *Round) IsActive() bool {
	return r.Status == RoundActive
}

// ThresholdReached reports whether enough comments accumulated to summarize.
func (r *Round) ThresholdReached() bool {
	return r.MaxComments > 0 && r.CommentCount >= r.MaxComments
}

// Comment is a participant contribution admitted into a round.
type Comment struct {
	ID           string        `json:"id"`
	TopicID      string        `json:"topic_id"`
	RoundID      string        `json:"round_id"`
	AuthorID     string        `json:"author_id"`
	Content      string        `json:"content"`
	PositionType string        `json:"position_type"`
	IsAnonymous  bool          `json:"is_anonymous"`
	Status       CommentStatus `json:"status"`
	CreatedAt    int64         `json:"created_at"`
}

// Summary is the digest of one round. Created once per summarized round; immutable.
type Summary struct {
	ID      string `json:"id"`
	RoundID string `json:"round_id"`
	Title   string `json:"title"`

	// Overview is the free-form paragraph accompanying the structured points
	Overview string `json:"overview"`

	Consensus          []string `json:"consensus"`
	Disagreements      []string `json:"disagreements"`
	NewQuestions       []string `json:"new_questions"`
	ReferencedComments []string `json:"referenced_comments"`
	Sentiment          string   `json:"sentiment"`

	// ConvergenceScore estimates agreement in [0, 1]
	ConvergenceScore float64 `json:"convergence_score"`

	ModelVersion string `json:"model_version"`

	// Degraded marks a locally synthesized placeholder digest
	Degraded  bool  `json:"degraded"`
	CreatedAt int64 `json:"created_at"`
}
