package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/textutil"
)

// Audit actions written by the operator surface.
const (
	ActionCandidateAdded = "candidate_added"
	ActionSpecActivated  = "spec_activated"
)

// SimilarityThreshold is the TF-IDF cosine score at or above which a new
// candidate is flagged too_similar to an earlier one.
const SimilarityThreshold = 0.8

// CandidateInput is the operator-supplied text of a new candidate.
type CandidateInput struct {
	Title           string `json:"title" yaml:"title"`
	Summary         string `json:"summary" yaml:"summary"`
	ExpectedOutcome string `json:"expected_outcome" yaml:"expected_outcome"`
	Source          string `json:"source,omitempty" yaml:"source,omitempty"`
}

func (in CandidateInput) normalized() (CandidateInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)
	in.ExpectedOutcome = strings.TrimSpace(in.ExpectedOutcome)
	in.Source = strings.TrimSpace(in.Source)
	if in.Title == "" {
		return in, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "add candidate", "title is required", nil)
	}
	if in.Summary == "" {
		return in, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "add candidate", "summary is required", nil)
	}
	return in, nil
}

// AddCandidate stores a new unverified candidate and flags near-duplicates
// of earlier submissions.
func (s *Service) AddCandidate(ctx context.Context, in CandidateInput) (*store.Candidate, error) {
	in, err := in.normalized()
	if err != nil {
		return nil, err
	}
	var created *store.Candidate
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		ids, texts, err := q.CandidateTexts(ctx)
		if err != nil {
			return err
		}
		draft := store.NewCandidate{
			Title:            in.Title,
			Summary:          in.Summary,
			ExpectedOutcome:  in.ExpectedOutcome,
			Source:           in.Source,
			SimilarityStatus: store.SimilarityOK,
		}
		if match, ok := textutil.BestMatch(in.Title+" "+in.Summary, texts); ok {
			draft.SimilarityScore = match.Score
			if match.Score >= SimilarityThreshold {
				draft.SimilarityStatus = store.SimilarityTooSimilar
				draft.SimilarToID = ids[match.Index]
			}
		}
		created, err = q.InsertCandidate(ctx, draft)
		if err != nil {
			return err
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityCandidate,
			EntityID:   created.ID,
			Action:     ActionCandidateAdded,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"title":             created.Title,
				"source":            created.Source,
				"similarity_status": created.SimilarityStatus,
				"similar_to_id":     created.SimilarToID,
			},
		})
	})
	if err != nil {
		return nil, wrapStore("add candidate", err)
	}
	logger := s.log(services.WithCandidateID(ctx, created.ID))
	if created.SimilarityStatus == store.SimilarityTooSimilar {
		logging.WarnWithContext(logger, "candidate resembles an earlier submission", "candidate_similar",
			logging.Int64("similar_to_id", created.SimilarToID),
			logging.Float64("similarity_score", created.SimilarityScore),
			logging.String(logging.FieldImpact, "candidate kept; review before picking"),
		)
	} else {
		logger.Info("candidate added", logging.String(logging.FieldEventType, "candidate_added"))
	}
	return created, nil
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Added  []*store.Candidate `json:"added"`
	Failed map[int]string     `json:"failed,omitempty"`
}

// ImportCandidates adds every candidate in a YAML or JSON document. The
// document is either a list of candidates or a mapping with a candidates
// key. Invalid entries are reported by index and do not stop the import.
func (s *Service) ImportCandidates(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "api", "read import", "", err)
	}
	inputs, err := decodeCandidates(data)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Failed: map[int]string{}}
	for i, in := range inputs {
		c, err := s.AddCandidate(ctx, in)
		if err != nil {
			if !isInputError(err) {
				return result, err
			}
			result.Failed[i] = services.ErrorDetails(err).Message
			continue
		}
		result.Added = append(result.Added, c)
	}
	return result, nil
}

// ImportCandidatesFile imports candidates from path.
func (s *Service) ImportCandidatesFile(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "import candidates",
			fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()
	return s.ImportCandidates(ctx, f)
}

func decodeCandidates(data []byte) ([]CandidateInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "import candidates", "import is empty", nil)
	}
	var list []CandidateInput
	if err := yaml.Unmarshal(trimmed, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Candidates []CandidateInput `yaml:"candidates"`
	}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "import candidates",
			"expected a list of candidates or a candidates mapping", err)
	}
	return doc.Candidates, nil
}

func isInputError(err error) bool {
	return services.CodeOf(err) == services.CodeInvalidArgument
}

// CandidateDetail is a candidate with its blocking gaps and idea.
type CandidateDetail struct {
	Candidate *store.Candidate `json:"candidate"`
	Gaps      []*store.Gap     `json:"gaps"`
	Idea      *store.Idea      `json:"idea,omitempty"`
}

// GetCandidate loads a candidate with its linked gaps and idea.
func (s *Service) GetCandidate(ctx context.Context, id int64) (*CandidateDetail, error) {
	c, err := s.store.GetCandidate(ctx, id)
	if err != nil {
		return nil, wrapStore("get candidate", err)
	}
	detail := &CandidateDetail{Candidate: c}
	if detail.Gaps, err = s.store.LinkedGaps(ctx, id); err != nil {
		return nil, wrapStore("linked gaps", err)
	}
	if idea, err := s.store.GetIdeaByCandidate(ctx, id); err == nil {
		detail.Idea = idea
	} else if !store.IsNotFound(err) {
		return nil, wrapStore("get idea", err)
	}
	return detail, nil
}

// ListCandidates returns candidates matching filter.
func (s *Service) ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]*store.Candidate, error) {
	out, err := s.store.ListCandidates(ctx, filter)
	return out, wrapStore("list candidates", err)
}

// PurgeRejected deletes rejected candidates that never became ideas.
func (s *Service) PurgeRejected(ctx context.Context) ([]int64, error) {
	return s.gate.PurgeRejected(ctx)
}
