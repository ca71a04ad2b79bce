// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/subpipe/internal/checkpoint"
	"github.com/ManuGH/subpipe/internal/chunk"
	"github.com/ManuGH/subpipe/internal/config"
	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/events"
	"github.com/ManuGH/subpipe/internal/hardware"
	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/media"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/model"
	"github.com/ManuGH/subpipe/internal/models"
	"github.com/ManuGH/subpipe/internal/platform/fs"
	"github.com/ManuGH/subpipe/internal/progress"
	"github.com/ManuGH/subpipe/internal/queue"
	"github.com/ManuGH/subpipe/internal/spectrum"
	"github.com/ManuGH/subpipe/internal/subtitle"
	"github.com/ManuGH/subpipe/internal/telemetry"
)

// Artifact filenames inside a job directory.
const (
	audioFile    = "audio.wav"
	peaksFile    = "peaks.json"
	srtFile      = "output.srt"
	thumbsDir    = "thumbnails"
	peaksBuckets = 2000
	thumbCount   = 8
)

// JobUpdater is the write path back into the job store. The queue
// manager satisfies it; mutations run under its lock and are persisted.
type JobUpdater interface {
	Update(id string, fn func(*model.Job)) error
}

// Options wires a Runner.
type Options struct {
	Pipeline   config.PipelineConfig
	Events     config.EventsConfig
	Policy     hardware.Policy
	Models     *models.Manager
	Classifier *spectrum.Classifier
	Store      *checkpoint.Store
	Bus        *events.Bus
	Tools      media.Toolset
	LLM        engine.LLM // may be nil; proof/translate then fail if the preset wants them
}

// Runner executes jobs handed over by the queue scheduler. One Runner
// serves all jobs; per-job state lives on the stack of Run.
type Runner struct {
	cfg        config.PipelineConfig
	eventsCfg  config.EventsConfig
	policy     hardware.Policy
	models     *models.Manager
	classifier *spectrum.Classifier
	store      *checkpoint.Store
	bus        *events.Bus
	tools      media.Toolset
	llm        engine.LLM
	jobs       JobUpdater
	tracer     trace.Tracer
}

// NewRunner builds a runner. Bind must be called with the job store
// before the first Run.
func NewRunner(opts Options) *Runner {
	return &Runner{
		cfg:        opts.Pipeline,
		eventsCfg:  opts.Events,
		policy:     opts.Policy,
		models:     opts.Models,
		classifier: opts.Classifier,
		store:      opts.Store,
		bus:        opts.Bus,
		tools:      opts.Tools,
		llm:        opts.LLM,
		tracer:     otel.Tracer("subpipe/pipeline"),
	}
}

// Bind attaches the job store write path. Separate from NewRunner
// because the queue manager is constructed with the runner's Run.
func (r *Runner) Bind(jobs JobUpdater) { r.jobs = jobs }

// sentencePayload is the body of subtitle.primary_sentence,
// subtitle.secondary_patch and subtitle.llm_proof events.
type sentencePayload struct {
	JobID      string         `json:"job_id"`
	Index      int            `json:"index"`
	Sentence   model.Sentence `json:"sentence"`
	IsUpdate   bool           `json:"is_update,omitempty"`
	Perplexity float64        `json:"perplexity,omitempty"`
}

// translationPayload is the body of subtitle.llm_trans events.
type translationPayload struct {
	JobID       string  `json:"job_id"`
	Index       int     `json:"index"`
	Translation string  `json:"translation"`
	Confidence  float64 `json:"confidence"`
}

// run-scoped state of one job execution.
type jobRun struct {
	job       *model.Job
	dir       string
	preset    config.Preset
	tracker   *progress.Tracker
	session   *subtitle.Session
	audio     engine.Audio
	chunks    []model.VADSegment
	states    []*chunk.State
	done      int     // chunks committed, resume cursor
	transConf float64 // confidence of the translation being committed
}

// Run executes one job to completion, pause or cancellation. It is the
// queue.RunFunc of the daemon.
func (r *Runner) Run(ctx context.Context, ctl *queue.Control, job *model.Job) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(telemetry.JobAttributes(job.ID, job.Preset)...))
	defer span.End()

	l := log.WithComponentFromContext(ctx, "pipeline")

	preset, err := config.PresetByName(job.Preset)
	if err != nil {
		return err
	}
	dir, err := r.store.JobDir(job.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	jr := &jobRun{
		job:     job,
		dir:     dir,
		preset:  preset,
		tracker: progress.New(job.ID, preset.Weights, r.bus, coalescePerSec(r.eventsCfg.CoalesceTick.Seconds())),
	}

	// Resume state, if any. The persisted segment list is authoritative;
	// the runner picks up at the first un-transcribed chunk.
	if m, sentences, err := r.store.Load(job.ID); err == nil {
		jr.chunks = m.Chunks
		jr.done = m.ChunksDone
		// The overall percentage never dips below the checkpointed value
		// while the fresh tracker's phase state catches up.
		jr.tracker.SeedPercent(job.Progress)
		jr.session = r.newSession(jr)
		jr.session.Restore(sentences)
		if len(sentences) > 0 {
			l.Info().Int("sentences", len(sentences)).Int("chunks_done", jr.done).Msg("resuming from checkpoint")
		}
	} else {
		jr.session = r.newSession(jr)
	}

	if err := r.runStages(ctx, ctl, jr); err != nil {
		return err
	}

	r.checkpoint(jr)
	r.setPhase(jr, "")
	return nil
}

func (r *Runner) runStages(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	type stage struct {
		name string
		fn   func(context.Context, *queue.Control, *jobRun) error
	}
	stages := []stage{
		{"extract", r.stageExtract},
		{"vad", r.stageVAD},
		{"diagnose", r.stageDiagnose},
		{"preseparate", r.stagePreSeparate},
		{"transcribe", r.stageTranscribe},
		{"enhance", r.stageEnhance},
		{"emit", r.stageEmit},
	}
	for _, st := range stages {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		sctx, span := r.tracer.Start(ctx, "pipeline."+st.name,
			trace.WithAttributes(telemetry.StageAttributes(jr.job.ID, st.name, len(jr.chunks))...))
		err := st.fn(sctx, ctl, jr)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		if len(jr.chunks) == 0 && st.name == "vad" {
			// No speech at all: legitimate completion with an empty
			// subtitle, skipping the chunk stages.
			return r.finishEmpty(jr)
		}
	}
	return nil
}

// boundary is the cooperative suspension point between stages and
// chunks. Cancellation wins over pause; a pause checkpoints first.
func (r *Runner) boundary(ctl *queue.Control, jr *jobRun) error {
	if err := ctl.Context().Err(); err != nil {
		return err
	}
	if ctl.PauseRequested() {
		r.checkpoint(jr)
		return queue.ErrPaused
	}
	return nil
}

// Stage 1: extract mono 16 kHz audio and the waveform/thumbnail
// artifacts the media endpoints serve.
func (r *Runner) stageExtract(ctx context.Context, _ *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhaseExtract, 1, "extracting audio")

	audioPath := filepath.Join(jr.dir, audioFile)
	if _, err := os.Stat(audioPath); err != nil {
		if err := r.tools.ExtractAudio(ctx, jr.job.InputPath, audioPath); err != nil {
			return err
		}
	}
	audio, err := media.LoadWAV(audioPath)
	if err != nil {
		return err
	}
	jr.audio = audio

	// Derived media artifacts are best effort; their absence never
	// fails the job.
	if err := media.WritePeaks(filepath.Join(jr.dir, peaksFile), media.Peaks(audio.Samples, peaksBuckets)); err != nil {
		logger := log.WithComponent("pipeline")
		logger.Warn().Err(err).Str(log.FieldJobID, jr.job.ID).Msg("peaks extraction failed")
	}
	if err := r.tools.Thumbnails(ctx, jr.job.InputPath, audio.DurationSec(), thumbCount, filepath.Join(jr.dir, thumbsDir)); err != nil {
		logger := log.WithComponent("pipeline")
		logger.Warn().Err(err).Str(log.FieldJobID, jr.job.ID).Msg("thumbnail extraction failed")
	}

	r.completePhase(jr, model.PhaseExtract)
	return nil
}

// Stage 2: voice activity detection. Checkpointed chunk spans from a
// previous run are reused so resume never re-segments.
func (r *Runner) stageVAD(ctx context.Context, _ *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhaseVAD, 1, "detecting speech")
	defer r.completePhase(jr, model.PhaseVAD)

	if len(jr.chunks) == 0 {
		eng, err := r.acquireSlot(ctx, models.SlotVAD)
		if err != nil {
			return err
		}
		vad := eng.(engine.VAD)
		err = r.retryTransient(ctx, "vad", func() error {
			segs, serr := vad.Segment(ctx, jr.audio)
			if serr != nil {
				return serr
			}
			jr.chunks = segs
			return nil
		})
		if err != nil {
			return err
		}
	}

	jr.states = make([]*chunk.State, len(jr.chunks))
	for i, seg := range jr.chunks {
		jr.states[i] = chunk.NewState(seg, jr.audio.Slice(seg.StartSec, seg.EndSec), r.cfg.FuseRetryCap)
	}
	return nil
}

// Stage 3: spectrum diagnosis of every chunk's original audio.
func (r *Runner) stageDiagnose(_ context.Context, ctl *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhaseBGMDetect, len(jr.chunks), "classifying ambient audio")
	for i, st := range jr.states {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		st.SetDiagnosis(r.classifier.Diagnose(st.Index(), st.Original().Samples, st.Original().SampleRate))
		jr.tracker.Advance(model.PhaseBGMDetect, i+1, "")
	}
	r.completePhase(jr, model.PhaseBGMDetect)
	return nil
}

// Stage 4: selective pre-separation. The separator for each needed tier
// is acquired once, runs over all flagged chunks at that tier, then is
// evicted, so model loads are amortized.
func (r *Runner) stagePreSeparate(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhaseDemucs, len(jr.chunks), "separating vocals")
	defer r.completePhase(jr, model.PhaseDemucs)

	if !r.policy.EnableSeparation {
		logger := log.WithComponent("pipeline")
		logger.Info().Str(log.FieldJobID, jr.job.ID).Msg("separation disabled by hardware policy")
		return nil
	}

	groups := map[model.SeparatorTier][]*chunk.State{}
	for i, st := range jr.states {
		if i < jr.done || st.Diagnosis() == nil || !st.Diagnosis().NeedSeparation() {
			continue
		}
		tier := r.clampTier(st.Diagnosis().Recommended)
		if tier == model.SeparatorNone {
			continue
		}
		groups[tier] = append(groups[tier], st)
	}

	processed := 0
	for _, tier := range []model.SeparatorTier{model.SeparatorLight, model.SeparatorHeavy} {
		states := groups[tier]
		if len(states) == 0 {
			continue
		}
		eng, err := r.models.AcquireSeparator(ctx, tier)
		if err != nil {
			// Degrade: transcription proceeds on the unseparated audio.
			logger := log.WithComponent("pipeline")
			logger.Warn().
				Err(err).
				Str(log.FieldJobID, jr.job.ID).
				Str(log.FieldTier, tier.String()).
				Msg("separator unavailable, skipping separation")
			continue
		}
		sep := eng.(engine.Separator)
		for _, st := range states {
			if err := r.boundary(ctl, jr); err != nil {
				return err
			}
			var out engine.Audio
			err := r.retryTransient(ctx, "separator", func() error {
				var serr error
				out, serr = sep.Separate(ctx, st.Original())
				return serr
			})
			if err != nil {
				return err
			}
			if err := st.ApplyPreSeparation(tier, out); err != nil {
				return err
			}
			processed++
			jr.tracker.Advance(model.PhaseDemucs, processed, "")
		}
	}
	return r.models.Evict(models.SlotSeparator)
}

// Stage 5: the per-chunk transcribe/fuse loop. On an UPGRADE verdict
// the runner swaps the primary ASR out for the separator, re-separates
// the chunk's original audio at the next tier, swaps back, and redoes
// the chunk. The fuse's retry budget bounds the loop.
func (r *Runner) stageTranscribe(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhasePrimaryASR, len(jr.chunks), "transcribing")
	if jr.done > 0 {
		jr.tracker.Advance(model.PhasePrimaryASR, jr.done, "resumed")
	}

	eng, err := r.acquireSlot(ctx, models.SlotPrimaryASR)
	if err != nil {
		return err
	}
	asr := eng.(engine.PrimaryASR)
	fuse := chunk.NewFuse(r.cfg.FuseConfidence)
	split := newSplitter(r.cfg)

	for i := jr.done; i < len(jr.states); i++ {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		st := jr.states[i]

		var tr engine.Transcription
		for {
			err := r.retryTransient(ctx, "primary_asr", func() error {
				var terr error
				tr, terr = asr.Transcribe(ctx, st.Current(), jr.job.Language)
				return terr
			})
			if err != nil {
				return err
			}

			if fuse.Decide(st, tr.AvgConfidence, tr.EventTag) == chunk.Accept {
				break
			}
			tier := r.clampTier(st.NextLevel())
			if tier <= st.Level() {
				break // policy forbids the stronger tier, keep the attempt
			}
			upgraded, err := r.upgradeChunk(ctx, st, tier)
			if err != nil {
				return err
			}
			asr = upgraded
		}

		if words := offsetWords(tr.Words, st.StartSec()); len(words) > 0 && strings.TrimSpace(tr.Text) != "" {
			for _, sent := range split.Split(words) {
				jr.session.Append(sent)
			}
		}

		jr.done = i + 1
		jr.tracker.Advance(model.PhasePrimaryASR, jr.done, "")
		r.checkpoint(jr)
	}
	r.completePhase(jr, model.PhasePrimaryASR)
	return nil
}

// upgradeChunk performs the swap dance of an UPGRADE verdict: evict the
// primary ASR, separate the chunk's original audio at the requested
// tier, evict the separator, and hand back a freshly resident ASR.
func (r *Runner) upgradeChunk(ctx context.Context, st *chunk.State, tier model.SeparatorTier) (engine.PrimaryASR, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.upgrade",
		trace.WithAttributes(append(
			telemetry.ChunkAttributes(st.Index(), st.StartSec(), st.EndSec()),
			telemetry.EngineAttributes(string(models.SlotSeparator), tier.String())...)...))
	defer span.End()

	if err := r.models.Evict(models.SlotPrimaryASR); err != nil {
		return nil, err
	}
	sepEng, err := r.models.AcquireSeparator(ctx, tier)
	if err != nil {
		return nil, err
	}
	sep := sepEng.(engine.Separator)

	var out engine.Audio
	err = r.retryTransient(ctx, "separator", func() error {
		var serr error
		out, serr = sep.Separate(ctx, st.Original())
		return serr
	})
	if err != nil {
		return nil, err
	}
	if err := st.Upgrade(tier, out); err != nil {
		return nil, err
	}
	if err := r.models.Evict(models.SlotSeparator); err != nil {
		return nil, err
	}

	eng, err := r.acquireSlot(ctx, models.SlotPrimaryASR)
	if err != nil {
		return nil, err
	}
	return eng.(engine.PrimaryASR), nil
}

// Stage 6: preset-driven enhancement passes over the committed
// sentences: secondary ASR patching, LLM proofreading, LLM translation.
func (r *Runner) stageEnhance(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	if err := r.stagePatch(ctx, ctl, jr); err != nil {
		return fmt.Errorf("secondary patch: %w", err)
	}
	if err := r.stageProof(ctx, ctl, jr); err != nil {
		return fmt.Errorf("llm proof: %w", err)
	}
	if err := r.stageTranslate(ctx, ctl, jr); err != nil {
		return fmt.Errorf("llm translate: %w", err)
	}
	return nil
}

func (r *Runner) stagePatch(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	if !jr.preset.SecondaryPatch {
		r.completePhase(jr, model.PhaseSecondaryPatch)
		return nil
	}

	var targets []int
	for _, sent := range jr.session.All() {
		if !jr.preset.PatchLowOnly || sent.Confidence < r.cfg.PatchConfidence {
			targets = append(targets, sent.Index)
		}
	}
	r.startPhase(jr, model.PhaseSecondaryPatch, len(targets), "patching low-confidence sentences")
	defer r.completePhase(jr, model.PhaseSecondaryPatch)
	if len(targets) == 0 {
		return nil
	}

	eng, err := r.acquireSlot(ctx, models.SlotSecondaryASR)
	if err != nil {
		return err
	}
	sec := eng.(engine.SecondaryASR)

	for n, idx := range targets {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		sent, ok := jr.session.Get(idx)
		if !ok {
			continue
		}
		st := r.containingChunk(jr, sent)
		if st == nil {
			continue
		}
		slice := st.Current().Slice(sent.Start-st.StartSec(), sent.End-st.StartSec())
		prompt := strings.Join(jr.session.ContextWindow(idx, r.cfg.LLMContextWindow), " ")

		var res engine.TextOnly
		err := r.retryTransient(ctx, "secondary_asr", func() error {
			var terr error
			res, terr = sec.TranscribeTextOnly(ctx, slice, prompt, jr.job.Language)
			return terr
		})
		if err != nil {
			return err
		}
		if text := strings.TrimSpace(res.Text); text != "" && text != sent.Text {
			conf := res.AvgConfidence
			if _, err := jr.session.ReplaceText(idx, subtitle.Replacement{
				Text:       text,
				Source:     model.SourceSecondaryPatch,
				Confidence: &conf,
			}); err != nil {
				return err
			}
		}
		jr.tracker.Advance(model.PhaseSecondaryPatch, n+1, "")
		r.checkpoint(jr)
	}
	return nil
}

func (r *Runner) stageProof(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	if jr.preset.Proof == config.ProofOff {
		r.completePhase(jr, model.PhaseLLMProof)
		return nil
	}
	if r.llm == nil {
		return fmt.Errorf("preset %s requires an LLM but none is configured", jr.preset.Name)
	}

	var targets []int
	for _, sent := range jr.session.All() {
		if jr.preset.Proof == config.ProofFull || sent.Warning != model.WarningNone {
			targets = append(targets, sent.Index)
		}
	}
	r.startPhase(jr, model.PhaseLLMProof, len(targets), "proofreading")
	defer r.completePhase(jr, model.PhaseLLMProof)

	for n, idx := range targets {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		sent, ok := jr.session.Get(idx)
		if !ok {
			continue
		}
		var proofed engine.Proofed
		err := r.retryTransient(ctx, "llm", func() error {
			var perr error
			proofed, perr = r.llm.Proof(ctx, sent.Text, jr.session.ContextWindow(idx, r.cfg.LLMContextWindow))
			return perr
		})
		if err != nil {
			return err
		}
		if text := strings.TrimSpace(proofed.Text); text != "" && text != sent.Text {
			perp := proofed.Perplexity
			if _, err := jr.session.ReplaceText(idx, subtitle.Replacement{
				Text:       text,
				Source:     model.SourceLLMCorrection,
				Perplexity: &perp,
			}); err != nil {
				return err
			}
		}
		jr.tracker.Advance(model.PhaseLLMProof, n+1, "")
		r.checkpoint(jr)
	}
	return nil
}

func (r *Runner) stageTranslate(ctx context.Context, ctl *queue.Control, jr *jobRun) error {
	if jr.preset.Translate == config.TranslateOff {
		r.completePhase(jr, model.PhaseLLMTrans)
		return nil
	}
	if r.llm == nil {
		return fmt.Errorf("preset %s requires an LLM but none is configured", jr.preset.Name)
	}

	var targets []int
	for _, sent := range jr.session.All() {
		lowConf := sent.Warning == model.WarningLowConfidence || sent.Warning == model.WarningBoth
		if jr.preset.Translate == config.TranslateFull || lowConf {
			targets = append(targets, sent.Index)
		}
	}
	r.startPhase(jr, model.PhaseLLMTrans, len(targets), "translating")
	defer r.completePhase(jr, model.PhaseLLMTrans)

	for n, idx := range targets {
		if err := r.boundary(ctl, jr); err != nil {
			return err
		}
		sent, ok := jr.session.Get(idx)
		if !ok {
			continue
		}
		var translated engine.Translated
		err := r.retryTransient(ctx, "llm", func() error {
			var terr error
			translated, terr = r.llm.Translate(ctx, sent.Text, jr.job.Language, jr.session.ContextWindow(idx, r.cfg.LLMContextWindow))
			return terr
		})
		if err != nil {
			return err
		}
		jr.transConf = translated.Confidence
		if _, err := jr.session.SetTranslation(idx, translated.Text, translated.Confidence); err != nil {
			return err
		}
		jr.tracker.Advance(model.PhaseLLMTrans, n+1, "")
		r.checkpoint(jr)
	}
	return nil
}

// Stage 7: serialize the session to SRT and persist it atomically.
func (r *Runner) stageEmit(_ context.Context, _ *queue.Control, jr *jobRun) error {
	r.startPhase(jr, model.PhaseSRT, 1, "writing subtitle")
	if err := fs.WriteAtomic(filepath.Join(jr.dir, srtFile), subtitle.MarshalSRT(jr.session.All())); err != nil {
		return err
	}
	r.completePhase(jr, model.PhaseSRT)
	return nil
}

// finishEmpty completes a job whose VAD found no speech: every
// remaining phase is closed out and an empty SRT is written.
func (r *Runner) finishEmpty(jr *jobRun) error {
	if err := fs.WriteAtomic(filepath.Join(jr.dir, srtFile), subtitle.MarshalSRT(nil)); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	for _, phase := range model.Phases() {
		r.completePhase(jr, phase)
	}
	r.checkpoint(jr)
	r.setPhase(jr, "")
	return nil
}

// newSession builds the job's subtitle session with a notify hook that
// publishes the matching event, checkpoints the segment list and syncs
// the job record.
func (r *Runner) newSession(jr *jobRun) *subtitle.Session {
	return subtitle.NewSession(r.cfg.SentenceWarnConfidence, r.cfg.PerplexityWarnThreshold,
		func(event string, sent model.Sentence) {
			r.onSentence(jr, event, sent)
		})
}

func (r *Runner) onSentence(jr *jobRun, event string, sent model.Sentence) {
	var payload interface{}
	switch event {
	case subtitle.EventLLMTranslation:
		payload = translationPayload{
			JobID:       jr.job.ID,
			Index:       sent.Index,
			Translation: sent.Translation,
			Confidence:  jr.transConf,
		}
	case subtitle.EventLLMProof:
		payload = sentencePayload{
			JobID:      jr.job.ID,
			Index:      sent.Index,
			Sentence:   sent,
			IsUpdate:   true,
			Perplexity: sent.Perplexity,
		}
	case subtitle.EventSecondaryPatch:
		payload = sentencePayload{JobID: jr.job.ID, Index: sent.Index, Sentence: sent, IsUpdate: true}
	default:
		payload = sentencePayload{JobID: jr.job.ID, Index: sent.Index, Sentence: sent}
	}
	r.bus.Publish(jr.job.ID, event, payload)

	if err := r.store.SaveSegments(jr.job.ID, jr.session.All()); err != nil {
		// Checkpoint I/O failures never stop the pipeline; the loss is
		// bounded to the current phase.
		logger := log.WithComponent("pipeline")
		logger.Error().Err(err).Str(log.FieldJobID, jr.job.ID).Msg("segment checkpoint failed")
	}
	if r.jobs != nil {
		snapshot := jr.session.All()
		_ = r.jobs.Update(jr.job.ID, func(j *model.Job) {
			j.Sentences = snapshot
			j.Progress = jr.tracker.Percent()
		})
	}
}

// checkpoint writes the manifest with the runner's chunk progress.
func (r *Runner) checkpoint(jr *jobRun) {
	err := r.store.Save(checkpoint.Manifest{
		Job:          jr.job,
		Chunks:       jr.chunks,
		ChunksDone:   jr.done,
		LastEventSeq: r.bus.LastSeq(jr.job.ID),
	})
	if err != nil {
		logger := log.WithComponent("pipeline")
		logger.Error().Err(err).Str(log.FieldJobID, jr.job.ID).Msg("manifest checkpoint failed")
	}
}

func (r *Runner) startPhase(jr *jobRun, phase model.Phase, items int, message string) {
	jr.tracker.StartPhase(phase, items, message)
	r.signal(jr.job.ID, "phase_start", string(phase))
	r.setPhase(jr, phase)
}

func (r *Runner) completePhase(jr *jobRun, phase model.Phase) {
	jr.tracker.CompletePhase(phase)
	r.signal(jr.job.ID, "phase_complete", string(phase))
	r.setPhase(jr, phase)
}

func (r *Runner) setPhase(jr *jobRun, phase model.Phase) {
	if r.jobs == nil {
		return
	}
	_ = r.jobs.Update(jr.job.ID, func(j *model.Job) {
		j.Phase = phase
		j.Progress = jr.tracker.Percent()
	})
}

func (r *Runner) signal(jobID, sig, message string) {
	r.bus.Publish(jobID, "signal."+sig, queue.Signal{JobID: jobID, Signal: sig, Message: message})
}

// acquireSlot wraps Manager.Acquire with the unavailable-class
// recovery: free every resident engine once, then retry.
func (r *Runner) acquireSlot(ctx context.Context, slot models.Slot) (models.Engine, error) {
	eng, err := r.models.Acquire(ctx, slot)
	if err != nil && engine.IsUnavailable(err) {
		logger := log.WithComponent("pipeline")
		logger.Warn().Err(err).Str(log.FieldSlot, string(slot)).Msg("engine unavailable, evicting all and retrying")
		_ = r.models.CloseAll()
		eng, err = r.models.Acquire(ctx, slot)
	}
	return eng, err
}

// retryTransient runs fn, retrying exactly once when the failure is in
// the transient class. Call outcomes feed the engine metrics.
func (r *Runner) retryTransient(ctx context.Context, name string, fn func() error) error {
	err := fn()
	if err != nil && engine.IsTransient(err) && ctx.Err() == nil {
		logger := log.WithComponent("pipeline")
		logger.Warn().Err(err).Str("engine", name).Msg("transient engine failure, retrying once")
		metrics.IncEngineCall(name, "retry")
		err = fn()
	}
	if err != nil {
		metrics.IncEngineCall(name, "error")
		return err
	}
	metrics.IncEngineCall(name, "ok")
	return nil
}

// clampTier caps a requested separation tier at what the hardware
// policy allows.
func (r *Runner) clampTier(tier model.SeparatorTier) model.SeparatorTier {
	if !r.policy.EnableSeparation {
		return model.SeparatorNone
	}
	if tier > r.policy.SeparatorTier {
		return r.policy.SeparatorTier
	}
	return tier
}

// containingChunk finds the chunk whose interval covers the sentence.
func (r *Runner) containingChunk(jr *jobRun, sent model.Sentence) *chunk.State {
	for _, st := range jr.states {
		if sent.Start >= st.StartSec() && sent.Start < st.EndSec() {
			return st
		}
	}
	return nil
}

// offsetWords shifts chunk-relative word times onto the job time axis.
func offsetWords(words []model.Word, startSec float64) []model.Word {
	out := make([]model.Word, len(words))
	for i, w := range words {
		w.Start += startSec
		w.End += startSec
		out[i] = w
	}
	return out
}

func coalescePerSec(tickSeconds float64) float64 {
	if tickSeconds <= 0 {
		return 20
	}
	return 1 / tickSeconds
}
