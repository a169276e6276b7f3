package gcpspeech

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"medical-ai-platform/internal/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	errs []error
	resp *speechpb.LongRunningRecognizeResponse
	reqs []*speechpb.LongRunningRecognizeRequest
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func result(text string) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
	}
}

func newTest(rec recognizer, retries int) *Transcriber {
	t := newTranscriber(rec, Config{Language: "it", MaxRetries: retries}, nil)
	t.sleep = func(time.Duration) {}
	return t
}

func TestTranscribe_JoinsResults(t *testing.T) {
	rec := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{result("Dolore al 36."), {}, result(" Allergia alla penicillina. ")},
	}}
	text, err := newTest(rec, 0).Transcribe(context.Background(), []byte("opus"))
	require.NoError(t, err)
	assert.Equal(t, "Dolore al 36. Allergia alla penicillina.", text)

	require.Len(t, rec.reqs, 1)
	cfg := rec.reqs[0].GetConfig()
	assert.Equal(t, speechpb.RecognitionConfig_WEBM_OPUS, cfg.GetEncoding())
	assert.Equal(t, "it-IT", cfg.GetLanguageCode())
	assert.Equal(t, "latest_long", cfg.GetModel())
}

func TestTranscribe_RetriesUnavailable(t *testing.T) {
	rec := &fakeRecognizer{
		errs: []error{status.Error(codes.Unavailable, "down"), status.Error(codes.ResourceExhausted, "quota")},
		resp: &speechpb.LongRunningRecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{result("ok")}},
	}
	text, err := newTest(rec, 2).Transcribe(context.Background(), []byte("opus"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, rec.reqs, 3)
}

func TestTranscribe_PermanentErrorNotRetried(t *testing.T) {
	rec := &fakeRecognizer{errs: []error{status.Error(codes.InvalidArgument, "bad audio")}}
	_, err := newTest(rec, 3).Transcribe(context.Background(), []byte("opus"))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Len(t, rec.reqs, 1)
}

func TestTranscribe_EmptyInputsAndOutputs(t *testing.T) {
	rec := &fakeRecognizer{resp: &speechpb.LongRunningRecognizeResponse{}}
	_, err := newTest(rec, 0).Transcribe(context.Background(), nil)
	assert.ErrorIs(t, err, ai.ErrEmptyOutput)

	_, err = newTest(rec, 0).Transcribe(context.Background(), []byte("opus"))
	assert.ErrorIs(t, err, ai.ErrEmptyOutput)

	_, err = newTest(rec, 0).Transcribe(context.Background(), make([]byte, MaxInlineBytes+1))
	assert.Error(t, err)
}

func TestLanguageTag(t *testing.T) {
	assert.Equal(t, "it-IT", languageTag(""))
	assert.Equal(t, "it-IT", languageTag("it"))
	assert.Equal(t, "en-GB", languageTag("en-GB"))
}
