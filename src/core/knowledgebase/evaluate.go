package knowledgebase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

// EvalCase is one labelled question with the chunk titles a good retrieval
// should return.
type EvalCase struct {
	Query        string   `json:"query"`
	GoldenTitles []string `json:"golden_titles"`
}

type EvalResult struct {
	Query          string
	Retrieved      []string
	Recall         float64
	ReciprocalRank float64
}

// EvalReport summarizes retrieval quality over a set of cases.
type EvalReport struct {
	Results    []EvalResult
	Skipped    int
	MeanRecall float64
	MRR        float64
}

// ReadEvalCases parses one JSON case per line. Blank lines are ignored.
func ReadEvalCases(r io.Reader) ([]EvalCase, error) {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	var cases []EvalCase
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c EvalCase
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidRequest, line, err)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read evaluation cases: %w", err)
	}
	return cases, nil
}

// Evaluate runs every case through embedding and retrieval with the
// configured cutoff and scores recall@k and reciprocal rank. Cases without a
// query or golden titles are skipped. A quota signal stops the run; the
// report covers the cases scored so far.
func (s *Service) Evaluate(ctx context.Context, cases []EvalCase, k int) (*EvalReport, error) {
	if k <= 0 {
		k = s.retrieval.TopK
	}

	report := &EvalReport{}
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report.finish(), err
		}
		if c.Query == "" || len(c.GoldenTitles) == 0 {
			report.Skipped++
			continue
		}

		query, err := s.embed(ctx, c.Query)
		if err != nil {
			return report.finish(), err
		}
		retrieval, err := s.retriever.Retrieve(query, k, s.retrieval.MinScore)
		if err != nil {
			return report.finish(), err
		}

		report.Results = append(report.Results, scoreCase(c, retrieval.Hits))
	}
	return report.finish(), nil
}

func scoreCase(c EvalCase, hits []ScoredChunk) EvalResult {
	result := EvalResult{Query: c.Query}
	matched := 0
	for rank, hit := range hits {
		result.Retrieved = append(result.Retrieved, hit.Chunk.Title)
		if !slices.Contains(c.GoldenTitles, hit.Chunk.Title) {
			continue
		}
		matched++
		if result.ReciprocalRank == 0 {
			result.ReciprocalRank = 1 / float64(rank+1)
		}
	}
	result.Recall = float64(matched) / float64(len(c.GoldenTitles))
	return result
}

func (r *EvalReport) finish() *EvalReport {
	if len(r.Results) == 0 {
		return r
	}
	var recall, rr float64
	for _, res := range r.Results {
		recall += res.Recall
		rr += res.ReciprocalRank
	}
	n := float64(len(r.Results))
	r.MeanRecall = recall / n
	r.MRR = rr / n
	return r
}
