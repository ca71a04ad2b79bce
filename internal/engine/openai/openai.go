// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package openai provides the secondary ASR and LLM contracts backed by
// the OpenAI API. The secondary engine contributes text only — its
// timestamps are discarded by contract — and the LLM handles
// proofreading and translation of committed sentences.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ManuGH/subpipe/internal/engine"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/platform/httpx"
)

// Compile-time assertions.
var (
	_ engine.SecondaryASR = (*Client)(nil)
	_ engine.LLM          = (*Client)(nil)
)

// Config for the API-backed engines.
type Config struct {
	APIKey         string
	BaseURL        string
	SecondaryModel string // transcription model, e.g. "whisper-1"
	LLMModel       string // chat model for proof/translate
	Timeout        time.Duration
}

// Client implements both SecondaryASR and LLM on one API client.
type Client struct {
	client         oai.Client
	secondaryModel string
	llmModel       string
}

// New constructs the API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if cfg.SecondaryModel == "" {
		cfg.SecondaryModel = "whisper-1"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpx.NewClient(cfg.Timeout)),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:         oai.NewClient(reqOpts...),
		secondaryModel: cfg.SecondaryModel,
		llmModel:       cfg.LLMModel,
	}, nil
}

// verboseTranscription is the verbose_json response subset we consume.
type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// TranscribeTextOnly sends the sentence slice as WAV and returns text
// plus a conservative confidence estimate:
//
//	min(1, max(0, 1 + avg_logprob)) × (1 − avg_no_speech_prob)
func (c *Client) TranscribeTextOnly(ctx context.Context, audio engine.Audio, contextPrompt, languageHint string) (engine.TextOnly, error) {
	wav := encodeWAV(audio)

	params := oai.AudioTranscriptionNewParams{
		Model:          c.secondaryModel,
		File:           oai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if contextPrompt != "" {
		params.Prompt = oai.String(contextPrompt)
	}
	if languageHint != "" {
		params.Language = oai.String(languageHint)
	}

	var verbose verboseTranscription
	_, err := c.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&verbose))
	if err != nil {
		metrics.IncEngineCall("secondary_asr", "error")
		return engine.TextOnly{}, engine.Transient(fmt.Errorf("openai: transcription: %w", err))
	}
	metrics.IncEngineCall("secondary_asr", "ok")

	out := engine.TextOnly{Text: strings.TrimSpace(verbose.Text)}
	if n := len(verbose.Segments); n > 0 {
		var logprob, noSpeech float64
		for _, seg := range verbose.Segments {
			logprob += seg.AvgLogprob
			noSpeech += seg.NoSpeechProb
		}
		logprob /= float64(n)
		noSpeech /= float64(n)
		out.AvgConfidence = math.Min(1, math.Max(0, 1+logprob)) * (1 - noSpeech)
	}
	return out, nil
}

// Close satisfies the engine contract; the HTTP client has no state.
func (c *Client) Close() error { return nil }

// Proof asks the LLM for a corrected rendition of one sentence and
// derives perplexity from the returned token logprobs.
func (c *Client) Proof(ctx context.Context, text string, contextTexts []string) (engine.Proofed, error) {
	system := "You correct ASR transcription errors. Reply with only the corrected sentence, " +
		"preserving the original language and meaning. Do not add punctuation-only changes."
	user := text
	if len(contextTexts) > 0 {
		user = "Preceding lines:\n" + strings.Join(contextTexts, "\n") + "\n\nSentence to correct:\n" + text
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: c.llmModel,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Logprobs: oai.Bool(true),
	})
	if err != nil {
		metrics.IncEngineCall("llm_proof", "error")
		return engine.Proofed{}, engine.Transient(fmt.Errorf("openai: proof: %w", err))
	}
	if len(resp.Choices) == 0 {
		metrics.IncEngineCall("llm_proof", "error")
		return engine.Proofed{}, engine.Transient(fmt.Errorf("openai: proof: empty response"))
	}
	metrics.IncEngineCall("llm_proof", "ok")

	choice := resp.Choices[0]
	out := engine.Proofed{Text: strings.TrimSpace(choice.Message.Content)}

	if toks := choice.Logprobs.Content; len(toks) > 0 {
		var sum float64
		for _, t := range toks {
			sum += t.Logprob
		}
		// Perplexity of the correction under the model's own
		// distribution; high values flag uncertain rewrites.
		out.Perplexity = math.Exp(-sum / float64(len(toks)))
	}
	return out, nil
}

// Translate renders one sentence into targetLang.
func (c *Client) Translate(ctx context.Context, text, targetLang string, contextTexts []string) (engine.Translated, error) {
	system := fmt.Sprintf("You translate subtitles into %s. Reply with only the translation, "+
		"keeping it short enough to read as a subtitle line.", targetLang)
	user := text
	if len(contextTexts) > 0 {
		user = "Preceding lines:\n" + strings.Join(contextTexts, "\n") + "\n\nTranslate:\n" + text
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: c.llmModel,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Logprobs: oai.Bool(true),
	})
	if err != nil {
		metrics.IncEngineCall("llm_trans", "error")
		return engine.Translated{}, engine.Transient(fmt.Errorf("openai: translate: %w", err))
	}
	if len(resp.Choices) == 0 {
		metrics.IncEngineCall("llm_trans", "error")
		return engine.Translated{}, engine.Transient(fmt.Errorf("openai: translate: empty response"))
	}
	metrics.IncEngineCall("llm_trans", "ok")

	choice := resp.Choices[0]
	out := engine.Translated{Text: strings.TrimSpace(choice.Message.Content), Confidence: 0.9}
	if toks := choice.Logprobs.Content; len(toks) > 0 {
		var sum float64
		for _, t := range toks {
			sum += t.Logprob
		}
		out.Confidence = math.Exp(sum / float64(len(toks)))
	}
	return out, nil
}

// encodeWAV wraps float32 samples in a 16-bit PCM WAV container.
func encodeWAV(audio engine.Audio) []byte {
	n := len(audio.Samples)
	dataLen := n * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	writeU32 := func(v uint32) {
		buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
	writeU16 := func(v uint16) {
		buf.Write([]byte{byte(v), byte(v >> 8)})
	}

	buf.WriteString("RIFF")
	writeU32(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(16)
	writeU16(1) // PCM
	writeU16(1) // mono
	writeU32(uint32(audio.SampleRate))
	writeU32(uint32(audio.SampleRate * 2))
	writeU16(2)
	writeU16(16)
	buf.WriteString("data")
	writeU32(uint32(dataLen))

	for _, s := range audio.Samples {
		v := int16(math.Max(-1, math.Min(1, float64(s))) * 32767)
		writeU16(uint16(v))
	}
	return buf.Bytes()
}
