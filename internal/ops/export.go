package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
)

// ExportSchemaVersion is written to the header line of every export.
const ExportSchemaVersion = "1.0"

// Export record types, in file order after the header.
const (
	RecordTopic   = "topic"
	RecordRound   = "round"
	RecordComment = "comment"
	RecordSummary = "summary"
)

// ExportInput contains parameters for the ExportTopic operation.
type ExportInput struct {
	TopicID string `json:"topic_id"`
	Path    string `json:"path,omitempty"` // optional, default: <exports dir>/<title>-<timestamp>.jsonl
}

// ExportOutput contains the result of the ExportTopic operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"` // records written, excluding the header
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	AgoraExport   bool   `json:"_agora_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	TopicID       string `json:"topic_id"`
}

// ExportRecord is one line after the header. Exactly one payload field is set.
type ExportRecord struct {
	Type    string              `json:"type"`
	Topic   *discussion.Topic   `json:"topic,omitempty"`
	Round   *discussion.Round   `json:"round,omitempty"`
	Comment *discussion.Comment `json:"comment,omitempty"`
	Summary *discussion.Summary `json:"summary,omitempty"`
}

// ExportTopic writes the transcript of a topic to a JSONL file: a header,
// the topic, then each round followed by its comments and its summary.
func (s *Service) ExportTopic(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	topicID, err := requireID("topic_id", input.TopicID)
	if err != nil {
		return nil, err
	}
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		if exportPath, err = s.defaultExportPath(topic, now); err != nil {
			return nil, err
		}
	}

	// Default paths are validated too: they embed the topic title
	if err := ValidatePath(exportPath, s.cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Temp file then atomic rename, so an existing export survives a failure
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	header := ExportHeader{
		AgoraExport:   true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
		TopicID:       topic.ID,
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	count, err := s.writeTranscript(ctx, enc, topic)
	if err != nil {
		return nil, err
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before rename (required on Windows)
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows, os.Rename fails if the destination exists; the existing file is kept.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: topic.ID, Component: "agora.ops"})
	slog.InfoContext(ctx, "topic exported", "path", exportPath, "records", count)

	return &ExportOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: exportedAt,
	}, nil
}

// writeTranscript encodes every record of a topic and returns how many were written.
func (s *Service) writeTranscript(ctx context.Context, enc *json.Encoder, topic *discussion.Topic) (int, error) {
	count := 0
	write := func(rec ExportRecord) error {
		if err := checkContext(ctx, "export"); err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return errors.NewInternal(err)
		}
		count++
		return nil
	}

	if err := write(ExportRecord{Type: RecordTopic, Topic: topic}); err != nil {
		return 0, err
	}

	rounds, err := s.store.ListRounds(ctx, topic.ID)
	if err != nil {
		return 0, err
	}
	for i := range rounds {
		r := &rounds[i]
		if err := write(ExportRecord{Type: RecordRound, Round: r}); err != nil {
			return 0, err
		}

		comments, err := s.store.ListComments(ctx, r.ID, "")
		if err != nil {
			return 0, err
		}
		for j := range comments {
			if err := write(ExportRecord{Type: RecordComment, Comment: &comments[j]}); err != nil {
				return 0, err
			}
		}

		sum, err := s.store.GetSummaryByRound(ctx, r.ID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := write(ExportRecord{Type: RecordSummary, Summary: sum}); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// defaultExportPath generates <exports dir>/<title>-<timestamp>.jsonl.
func (s *Service) defaultExportPath(topic *discussion.Topic, now time.Time) (string, error) {
	dir := s.cfg.ExportsDir
	if dir == "" {
		var err error
		if dir, err = DefaultExportsDir(); err != nil {
			return "", err
		}
	}

	name := SanitizeForFilename(discussion.TruncateRunes(discussion.NormalizeTag(topic.Title), 40))
	filename := fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405"))
	return filepath.Join(dir, filename), nil
}
