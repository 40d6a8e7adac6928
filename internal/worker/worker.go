// Package worker hosts one storage bucket's search pipeline: it owns the
// bucket's slot file and a codec registry handle, drains the document
// stream one document at a time through query evaluation, ranking and
// top-K collection, and emits a single result when the stream ends.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/streamsearch/engine/internal/codec"
	"github.com/streamsearch/engine/internal/collector"
	"github.com/streamsearch/engine/internal/config"
	"github.com/streamsearch/engine/internal/errors"
	"github.com/streamsearch/engine/internal/fieldsearch"
	"github.com/streamsearch/engine/internal/querytree"
	"github.com/streamsearch/engine/internal/rank"
	"github.com/streamsearch/engine/internal/slotfile"
)

// SlotFileName is the bucket's document store file within its directory.
const SlotFileName = "bucket.dat"

// QueryFlagDumpFeatures requests a per-hit feature dump in the result.
const QueryFlagDumpFeatures = 0x00040000

// SearchParams are the visitor-side parameters consumed by one search.
type SearchParams struct {
	SearchCluster  string
	SummaryClass   string
	SummaryFields  []string
	SummaryCount   int
	RankProfile    string
	QueryFlags     uint32
	RankProperties map[string]string
	Location       string
	Sort           string
	QueryStack     []querytree.NodeDescriptor
	Aggregation    []byte
}

// ResultHit is one emitted hit, in ascending-lid order.
type ResultHit struct {
	Lid      uint32
	DocID    string
	Score    float64
	Summary  map[string]string
	Features map[string]float64
}

// Result is the single message a worker emits when the stream ends.
type Result struct {
	SearchID string
	Matched  int
	Hits     []ResultHit
}

// Worker serves searches over one bucket.
type Worker struct {
	cfg      *config.Config
	log      *slog.Logger
	file     *slotfile.File
	registry *codec.Registry
	breaker  *errors.CircuitBreaker
}

// New opens the bucket's slot file and prepares the codec registry,
// running both concurrently. Slot-file opens go through a circuit breaker
// so a degraded disk fails fast on repeated attempts.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		cfg:     cfg,
		log:     log,
		breaker: errors.NewCircuitBreaker("slotfile-open"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.breaker.Execute(func() error {
			file, err := errors.RetryWithResult(gctx, errors.RetryConfig{
				MaxRetries:   2,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     time.Second,
				Multiplier:   2,
			}, w.openSlotFile)
			if err != nil {
				return err
			}
			w.file = file
			return nil
		})
	})
	g.Go(func() error {
		registry := codec.NewRegistry(cfg.Codec.CacheSize, log)
		codec.RegisterDefaults(registry)
		if err := w.warmRegistry(registry); err != nil {
			return err
		}
		w.registry = registry
		return nil
	})
	if err := g.Wait(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return nil, err
	}
	return w, nil
}

func (w *Worker) openSlotFile() (*slotfile.File, error) {
	path := filepath.Join(w.cfg.Bucket.Path, SlotFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return slotfile.Create(path, w.cfg.SlotFile, w.log)
	}
	return slotfile.Open(path, w.cfg.SlotFile, w.log)
}

// warmRegistry resolves every message type except the deprecated
// StatDocument at the configured floor version so the first search
// doesn't pay the resolution cost.
func (w *Worker) warmRegistry(registry *codec.Registry) error {
	floor, err := codec.ParseVersion(w.cfg.Codec.FloorVersion)
	if err != nil {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("codec floor version %q", w.cfg.Codec.FloorVersion), err)
	}
	for _, typeID := range []uint32{
		codec.MessageGetDocument, codec.MessagePutDocument, codec.MessageRemoveDocument,
		codec.MessageUpdateDocument, codec.MessageCreateVisitor, codec.MessageRemoveLocation,
	} {
		registry.Lookup(typeID, floor)
	}
	return nil
}

// File exposes the bucket's slot file for feeding and maintenance.
func (w *Worker) File() *slotfile.File { return w.file }

// Registry exposes the worker's codec registry handle.
func (w *Worker) Registry() *codec.Registry { return w.registry }

// Close flushes and releases the slot file.
func (w *Worker) Close() error {
	if w.file == nil {
		return nil
	}
	if _, err := w.file.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Search evaluates the query against every live document in the bucket
// and returns the top-K result, sorted by lid.
func (w *Worker) Search(ctx context.Context, params SearchParams) (*Result, error) {
	searchID := uuid.NewString()
	log := w.log.With("search_id", searchID)

	tree, err := querytree.Build(params.QueryStack, querytree.AllTextFields{})
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidQueryStack, "build query tree", err)
	}

	fieldIDs := assignFieldIDs(tree)
	assignUniqueIDs(tree)
	md := rank.NewMatchData(tree, nil)

	var col *collector.Collector
	if params.Sort != "" {
		col = collector.NewSortKeyed(params.SummaryCount)
	} else {
		col = collector.New(params.SummaryCount)
	}

	searcher := fieldsearch.NewTokenSearcher()
	matched := 0

	for i := 0; i < w.file.NumSlots(); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		doc, err := w.file.ReadDocument(i)
		if err != nil {
			log.Warn("skipping unreadable slot", "slot", i, "error", err)
			continue
		}
		if doc.Remove {
			continue
		}
		lid := uint32(i) + 1
		fields := decodeFields(doc.HeaderBlob)
		searcher.SetDocument(lid, fields)

		tree.Reset()
		bindHits(tree, searcher, fieldIDs)

		evalCtx := querytree.NewEvalContext()
		if !tree.Evaluate(evalCtx) {
			continue
		}
		matched++

		rank.Unpack(tree, md, evalCtx, nil)
		score := rank.Run(defaultRankProgram, md)
		col.AddHit(lid, score, sortKeyFor(params.Sort, fields), rank.Snapshot(md))
	}

	result := &Result{SearchID: searchID, Matched: matched}
	sink := &resultSink{result: result}

	var program collector.RankProgram
	var featureNames []string
	if params.QueryFlags&QueryFlagDumpFeatures != 0 {
		program = rank.Adapter{Features: interleavedFeatures}
		featureNames = []string{"fieldLength", "numOccs", "firstPhase"}
	}
	if err := col.FillResult(sink, program, featureNames); err != nil {
		return nil, err
	}

	w.attachSummaries(result, params.SummaryFields)
	log.Info("search complete", "matched", matched, "returned", len(result.Hits))
	return result, nil
}

// attachSummaries fills each hit's doc id and requested summary fields
// from its slot, the worker's summary payload.
func (w *Worker) attachSummaries(result *Result, summaryFields []string) {
	for i := range result.Hits {
		hit := &result.Hits[i]
		doc, err := w.file.ReadDocument(int(hit.Lid) - 1)
		if err != nil {
			continue
		}
		hit.DocID = doc.DocID
		if len(summaryFields) == 0 {
			continue
		}
		fields := decodeFields(doc.HeaderBlob)
		hit.Summary = make(map[string]string, len(summaryFields))
		for _, name := range summaryFields {
			if v, ok := fields[name]; ok {
				hit.Summary[name] = v
			}
		}
	}
}

type resultSink struct {
	result *Result
}

func (s *resultSink) AddResult(lid uint32, score float64, features map[string]float64) {
	s.result.Hits = append(s.result.Hits, ResultHit{Lid: lid, Score: score, Features: features})
}

// assignFieldIDs gives each distinct term index a stable field id in
// first-appearance order.
func assignFieldIDs(n *querytree.Node) map[string]uint32 {
	ids := make(map[string]uint32)
	var walk func(*querytree.Node)
	walk = func(n *querytree.Node) {
		if n == nil {
			return
		}
		if n.Kind == querytree.KindTerm {
			if _, ok := ids[n.Index]; !ok {
				ids[n.Index] = uint32(len(ids))
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return ids
}

// assignUniqueIDs numbers term leaves that arrived without a unique id so
// each gets its own match-data slot. Leaves sharing a non-zero id (e.g. a
// numeric rewrite's equiv members) keep sharing it.
func assignUniqueIDs(n *querytree.Node) {
	next := uint32(1)
	var walk func(*querytree.Node)
	walk = func(n *querytree.Node) {
		if n == nil {
			return
		}
		if n.Kind == querytree.KindTerm {
			if n.UniqueID == 0 {
				n.UniqueID = next
			}
			next++
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
}

// bindHits asks the field searcher for every term leaf's hit list.
func bindHits(n *querytree.Node, searcher *fieldsearch.TokenSearcher, fieldIDs map[string]uint32) {
	if n == nil {
		return
	}
	if n.Kind == querytree.KindTerm {
		n.SetHits(searcher.LookupWithFieldID(fieldIDs[n.Index], n.Index, n.TermText))
		return
	}
	for _, c := range n.Children {
		bindHits(c, searcher, fieldIDs)
	}
}

// decodeFields parses a document header blob into its field map. Blobs
// are YAML field maps; anything unparseable searches as an empty document.
func decodeFields(blob []byte) map[string]string {
	fields := make(map[string]string)
	if len(blob) == 0 {
		return fields
	}
	if err := yaml.Unmarshal(blob, &fields); err != nil {
		return map[string]string{}
	}
	return fields
}

// EncodeFields is decodeFields' inverse, used by feeders and tests to
// build header blobs.
func EncodeFields(fields map[string]string) ([]byte, error) {
	return yaml.Marshal(fields)
}

// sortKeyFor derives a byte-comparable sort key from a "+field"/"-field"
// sort spec; descending order is expressed by byte-complementing.
func sortKeyFor(sortSpec string, fields map[string]string) []byte {
	if sortSpec == "" {
		return nil
	}
	descending := false
	name := sortSpec
	switch sortSpec[0] {
	case '+':
		name = sortSpec[1:]
	case '-':
		descending = true
		name = sortSpec[1:]
	}
	key := []byte(fields[name])
	if descending {
		for i := range key {
			key[i] = ^key[i]
		}
	}
	return key
}

// defaultRankProgram is the built-in first-phase program: a weighted
// occurrence density sum over the ranked terms, with nearest-neighbor raw
// scores passed through.
func defaultRankProgram(md *rank.MatchData) float64 {
	var score float64
	for _, t := range md.Terms {
		if t.RawScore != nil {
			score += *t.RawScore
			continue
		}
		if t.NumOccs == 0 {
			continue
		}
		length := t.FieldLength
		if length <= 0 {
			length = 1
		}
		score += float64(t.Weight) * float64(t.NumOccs) / float64(length)
	}
	return score
}

// interleavedFeatures exposes the interleaved features plus the
// first-phase score for feature dumps.
func interleavedFeatures(md *rank.MatchData, names []string) map[string]float64 {
	var numOccs, fieldLength float64
	for _, t := range md.Terms {
		numOccs += float64(t.NumOccs)
		if fl := float64(t.FieldLength); fl > fieldLength {
			fieldLength = fl
		}
	}
	all := map[string]float64{
		"numOccs":     numOccs,
		"fieldLength": fieldLength,
		"firstPhase":  defaultRankProgram(md),
	}
	out := make(map[string]float64, len(names))
	for _, n := range names {
		if v, ok := all[n]; ok {
			out[n] = v
		}
	}
	return out
}
