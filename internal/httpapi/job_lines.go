package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
)

const (
	defaultJobPreviewLimit = 80
	maxJobPreviewLimit     = 500
)

type jobLinesResponse struct {
	Job           *jobs.TranslationJob `json:"job"`
	Progress      jobProgressResponse  `json:"progress"`
	Lines         []jobPreviewLine     `json:"lines"`
	PreviewOffset int                  `json:"preview_offset"`
	PreviewLimit  int                  `json:"preview_limit"`
	// Partial is true until the job has succeeded.
	Partial bool `json:"partial"`
}

type jobProgressResponse struct {
	TranslatedLines int     `json:"translated_lines"`
	TotalLines      int     `json:"total_lines"`
	Percent         float64 `json:"percent"`
}

type jobPreviewLine struct {
	ID             int    `json:"id"`
	Start          string `json:"start"`
	End            string `json:"end"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text,omitempty"`
}

// handleJobLines returns a page of the latest snapshot of a job's lines,
// translated so far or not.
func (s *Server) handleJobLines(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, ok := s.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, jobs.ErrJobNotFound.Error())
		return
	}

	offset := parsePositiveIntWithDefault(r.URL.Query().Get("offset"), 0)
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultJobPreviewLimit)
	if limit <= 0 {
		limit = defaultJobPreviewLimit
	}
	if limit > maxJobPreviewLimit {
		limit = maxJobPreviewLimit
	}

	var lines []subtitle.Line
	if s.snapshots != nil {
		snapshot, _, err := s.snapshots.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		lines = snapshot
	}

	writeJSON(w, http.StatusOK, jobLinesResponse{
		Job:           job,
		Progress:      computeJobProgress(job, len(lines)),
		Lines:         buildPreviewLines(lines, translatedCount(job, len(lines)), offset, limit),
		PreviewOffset: offset,
		PreviewLimit:  limit,
		Partial:       job.Status != jobs.StatusSuccess,
	})
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// translatedCount is how many leading lines already carry a translation.
// Batches run in line order, so the processed count is a prefix.
func translatedCount(job *jobs.TranslationJob, total int) int {
	if job.Status == jobs.StatusSuccess {
		return total
	}
	return min(job.Progress.Processed, total)
}

func computeJobProgress(job *jobs.TranslationJob, snapshotLines int) jobProgressResponse {
	total := job.Progress.Total
	if total <= 0 {
		total = snapshotLines
	}
	if total <= 0 {
		return jobProgressResponse{}
	}
	done := min(job.Progress.Processed, total)
	if job.Status == jobs.StatusSuccess {
		done = total
	}
	return jobProgressResponse{
		TranslatedLines: done,
		TotalLines:      total,
		Percent:         (float64(done) / float64(total)) * 100,
	}
}

func buildPreviewLines(lines []subtitle.Line, translated int, offset int, limit int) []jobPreviewLine {
	if offset >= len(lines) {
		return []jobPreviewLine{}
	}
	end := min(len(lines), offset+limit)
	ret := make([]jobPreviewLine, 0, end-offset)
	for i := offset; i < end; i++ {
		line := lines[i]
		item := jobPreviewLine{
			ID:           line.ID,
			Start:        subtitle.FormatTimestamp(line.StartTime),
			End:          subtitle.FormatTimestamp(line.EndTime),
			OriginalText: line.OriginalText,
		}
		if i < translated {
			item.TranslatedText = line.Text
		}
		ret = append(ret, item)
	}
	return ret
}
