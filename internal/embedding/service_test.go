package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/errs"
)

// fakeProvider lets tests control success/failure and call counts without
// any network dependency.
type fakeProvider struct {
	name      string
	fail      bool
	dim       int
	callCount int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	f.callCount++
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeProvider) EmbedImage(ctx context.Context, images []ImageRef) ([][]float32, error) {
	return f.EmbedText(ctx, make([]string, len(images)))
}

func (f *fakeProvider) EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error) {
	return f.EmbedText(ctx, texts)
}

func TestEmbedTextEmptyStringIsZeroVectorWithoutCallingProvider(t *testing.T) {
	p := &fakeProvider{name: "p", dim: 4}
	svc := NewService([]Provider{p}, 4, 4, 100, zerolog.Nop())

	out, err := svc.EmbedText(context.Background(), []string{""})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, make([]float32, 4), []float32(out[0]))
	assert.Equal(t, 0, p.callCount, "empty input must never reach a provider")
}

func TestEmbedTextFallsBackToSecondProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true, dim: 4}
	secondary := &fakeProvider{name: "secondary", dim: 4}
	svc := NewService([]Provider{primary, secondary}, 4, 4, 100, zerolog.Nop())

	out, err := svc.EmbedText(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, primary.callCount)
	assert.Equal(t, 1, secondary.callCount)

	// primary stays degraded for the rest of the process
	_, err = svc.EmbedText(context.Background(), []string{"again"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.callCount, "degraded provider must not be retried")
	assert.Equal(t, 2, secondary.callCount)
}

func TestEmbedTextAllProvidersFailReturnsEmbeddingUnavailable(t *testing.T) {
	p := &fakeProvider{name: "p", fail: true, dim: 4}
	svc := NewService([]Provider{p}, 4, 4, 100, zerolog.Nop())

	_, err := svc.EmbedText(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrEmbeddingUnavailable))
}

func TestEmbedTextRejectsDimMismatch(t *testing.T) {
	p := &fakeProvider{name: "p", dim: 7} // wrong dim for textDim=4
	svc := NewService([]Provider{p}, 4, 4, 100, zerolog.Nop())

	_, err := svc.EmbedText(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrEmbeddingDimMismatch))
}

func TestEmbedTextCachesRepeatedInput(t *testing.T) {
	p := &fakeProvider{name: "p", dim: 4}
	svc := NewService([]Provider{p}, 4, 4, 100, zerolog.Nop())

	_, err := svc.EmbedText(context.Background(), []string{"same text"})
	require.NoError(t, err)
	_, err = svc.EmbedText(context.Background(), []string{"same text"})
	require.NoError(t, err)

	assert.Equal(t, 1, p.callCount, "second call with identical input should hit the cache")
}
