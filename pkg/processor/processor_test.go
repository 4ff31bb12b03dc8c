package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-image-exact/pkg/flow"
	"github.com/shouni/go-image-exact/pkg/processor"
	"github.com/shouni/go-image-exact/pkg/types"
)

const pageURL = "http://example.test/page.html"

// MockImageExtractor は processor.ImageExtractor のモックです。
type MockImageExtractor struct {
	mock.Mock
}

func (m *MockImageExtractor) ExtractImages(ctx context.Context, url string) ([]types.Image, error) {
	args := m.Called(ctx, url)
	var images []types.Image
	if v := args.Get(0); v != nil {
		images = v.([]types.Image)
	}
	return images, args.Error(1)
}

// blockingExtractor は ctx が終了するまで戻らない抽出サービスです。
type blockingExtractor struct{}

func (blockingExtractor) ExtractImages(ctx context.Context, url string) ([]types.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingWriter は常に書き込みに失敗します。
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("simulated I/O fault")
}

// rejectingSession は書き込みは受け付けるが、指定した出力チャネルへの送信を拒否します。
type rejectingSession struct {
	*flow.MemorySession
	reject flow.Relationship
}

func (s *rejectingSession) Transfer(unit *flow.Unit, rel flow.Relationship) error {
	if rel == s.reject {
		return errors.New("queue is closed")
	}
	return s.MemorySession.Transfer(unit, rel)
}

func newProcessor(t *testing.T, extractor processor.ImageExtractor, cfg processor.Config) *processor.Processor {
	t.Helper()
	p, err := processor.New(extractor, cfg)
	require.NoError(t, err)
	return p
}

// writeBody は Unit に既存のボディを持たせるためのヘルパーです。
func writeBody(t *testing.T, unit *flow.Unit, body string) {
	t.Helper()
	require.NoError(t, flow.NewMemorySession().Write(unit, func(w io.Writer) error {
		_, err := w.Write([]byte(body))
		return err
	}))
}

func TestNew(t *testing.T) {
	p, err := processor.New(nil, processor.Config{})
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "ImageExtractor cannot be nil")
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		attrs    map[string]string
		cfgURL   string
		expected string
	}{
		{"attribute_only", map[string]string{"url": "http://a.test/"}, "", "http://a.test/"},
		{"config_only", nil, "http://c.test/", "http://c.test/"},
		{"attribute_wins_over_config", map[string]string{"url": "http://a.test/"}, "http://c.test/", "http://a.test/"},
		{"empty_attribute_falls_back", map[string]string{"url": ""}, "http://c.test/", "http://c.test/"},
		{"blank_attribute_falls_back", map[string]string{"url": "  "}, "http://c.test/", "http://c.test/"},
		{"both_absent", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := flow.NewUnitWithAttributes(tt.attrs)
			got := processor.ResolveURL(unit, processor.Config{URL: tt.cfgURL})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestProcess_Success(t *testing.T) {
	images := []types.Image{{Src: "http://example.test/a.png"}}
	const expectedBody = `[{"src":"http://example.test/a.png"}]`

	tests := []struct {
		name   string
		attrs  map[string]string
		cfgURL string
	}{
		{"url_from_attribute", map[string]string{"url": pageURL}, ""},
		{"url_from_config", nil, pageURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := new(MockImageExtractor)
			extractor.On("ExtractImages", mock.Anything, pageURL).Return(images, nil).Once()

			p := newProcessor(t, extractor, processor.Config{URL: tt.cfgURL})
			session := flow.NewMemorySession()
			unit := flow.NewUnitWithAttributes(tt.attrs)
			writeBody(t, unit, "previous body")

			rel, err := p.Process(context.Background(), session, unit)

			require.NoError(t, err)
			assert.Equal(t, flow.Success, rel)
			assert.Equal(t, expectedBody, string(unit.Body()))
			assert.Len(t, session.Transferred(flow.Success), 1)
			assert.Empty(t, session.Transferred(flow.Failure))
			extractor.AssertExpectations(t)
		})
	}
}

func TestProcess_BodyIsJSONArrayOfAllImages(t *testing.T) {
	images := []types.Image{
		{Src: "http://example.test/1.png", Alt: "one"},
		{Src: "http://example.test/2.png", Width: "10", Height: "20"},
		{Src: "http://example.test/3.png", Title: "three"},
	}
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return(images, nil)

	p := newProcessor(t, extractor, processor.Config{})
	session := flow.NewMemorySession()
	unit := flow.NewUnitWithAttributes(map[string]string{"url": pageURL})

	rel := p.OnTrigger(context.Background(), session, unit)
	require.Equal(t, flow.Success, rel)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(unit.Body(), &decoded))
	require.Len(t, decoded, len(images))
	assert.Equal(t, "one", decoded[0]["alt"])
	assert.Equal(t, "20", decoded[1]["height"])
	assert.NotContains(t, decoded[1], "alt")
}

func TestProcess_Idempotent(t *testing.T) {
	images := []types.Image{{Src: "http://example.test/a.png", Alt: "a"}, {Src: "http://example.test/b.png"}}
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return(images, nil)

	p := newProcessor(t, extractor, processor.Config{})
	session := flow.NewMemorySession()
	first := flow.NewUnitWithAttributes(map[string]string{"url": pageURL})
	second := first.Clone()

	require.Equal(t, flow.Success, p.OnTrigger(context.Background(), session, first))
	require.Equal(t, flow.Success, p.OnTrigger(context.Background(), session, second))
	assert.Equal(t, first.Body(), second.Body())
}

func TestProcess_EmptyResultRoutesSuccessWithEmptyArray(t *testing.T) {
	tests := []struct {
		name   string
		result []types.Image
	}{
		{"empty_slice", []types.Image{}},
		{"nil_slice", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := new(MockImageExtractor)
			extractor.On("ExtractImages", mock.Anything, pageURL).Return(tt.result, nil)

			p := newProcessor(t, extractor, processor.Config{URL: pageURL})
			session := flow.NewMemorySession()
			unit := flow.NewUnit()

			rel, err := p.Process(context.Background(), session, unit)

			require.NoError(t, err)
			assert.Equal(t, flow.Success, rel)
			assert.Equal(t, "[]", string(unit.Body()))
		})
	}
}

func TestProcess_ExtractionFailureRoutesFailure(t *testing.T) {
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return(nil, errors.New("connection refused"))

	p := newProcessor(t, extractor, processor.Config{})
	session := flow.NewMemorySession()
	unit := flow.NewUnitWithAttributes(map[string]string{"url": pageURL})
	writeBody(t, unit, "existing body")

	rel, err := p.Process(context.Background(), session, unit)

	assert.Equal(t, flow.Failure, rel)
	assert.ErrorIs(t, err, processor.ErrExtraction)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "existing body", string(unit.Body()))
	assert.Len(t, session.Transferred(flow.Failure), 1)
	assert.Empty(t, session.Transferred(flow.Success))
}

func TestProcess_NoURLRoutesFailureWithoutCallingService(t *testing.T) {
	extractor := new(MockImageExtractor)

	p := newProcessor(t, extractor, processor.Config{})
	session := flow.NewMemorySession()
	unit := flow.NewUnitWithAttributes(map[string]string{"url": ""})

	rel, err := p.Process(context.Background(), session, unit)

	assert.Equal(t, flow.Failure, rel)
	assert.ErrorIs(t, err, processor.ErrNoURL)
	extractor.AssertNotCalled(t, "ExtractImages", mock.Anything, mock.Anything)
}

func TestProcess_CommitFailureRoutesFailure(t *testing.T) {
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return([]types.Image{{Src: "http://example.test/a.png"}}, nil)

	p := newProcessor(t, extractor, processor.Config{})
	session := flow.NewMemorySession(flow.WithWriterMiddleware(func(io.Writer) io.Writer {
		return failingWriter{}
	}))
	unit := flow.NewUnitWithAttributes(map[string]string{"url": pageURL})
	writeBody(t, unit, "pre-failure")

	rel, err := p.Process(context.Background(), session, unit)

	assert.Equal(t, flow.Failure, rel)
	assert.ErrorIs(t, err, processor.ErrCommit)
	assert.Equal(t, "pre-failure", string(unit.Body()))
	assert.Len(t, session.Transferred(flow.Failure), 1)
	assert.Empty(t, session.Transferred(flow.Success))
	extractor.AssertNumberOfCalls(t, "ExtractImages", 1)
}

func TestProcess_TransferFailureIsReported(t *testing.T) {
	t.Run("success_channel_rejects", func(t *testing.T) {
		extractor := new(MockImageExtractor)
		extractor.On("ExtractImages", mock.Anything, pageURL).Return([]types.Image{}, nil)

		p := newProcessor(t, extractor, processor.Config{URL: pageURL})
		session := &rejectingSession{MemorySession: flow.NewMemorySession(), reject: flow.Success}

		rel, err := p.Process(context.Background(), session, flow.NewUnit())

		assert.Equal(t, flow.Success, rel, "試みた出力チャネルを返すこと")
		require.Error(t, err)
		assert.ErrorIs(t, err, processor.ErrTransfer)
		assert.Contains(t, err.Error(), "queue is closed")
		assert.Empty(t, session.Transferred(flow.Success))
		assert.Empty(t, session.Transferred(flow.Failure))
	})

	t.Run("failure_channel_rejects_keeps_cause", func(t *testing.T) {
		p := newProcessor(t, new(MockImageExtractor), processor.Config{})
		session := &rejectingSession{MemorySession: flow.NewMemorySession(), reject: flow.Failure}

		rel, err := p.Process(context.Background(), session, flow.NewUnit())

		assert.Equal(t, flow.Failure, rel)
		assert.ErrorIs(t, err, processor.ErrNoURL)
		assert.ErrorIs(t, err, processor.ErrTransfer)
	})
}

func TestProcess_NilUnitIsCreated(t *testing.T) {
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return([]types.Image{}, nil)

	p := newProcessor(t, extractor, processor.Config{URL: pageURL})
	session := flow.NewMemorySession()

	rel := p.OnTrigger(context.Background(), session, nil)

	assert.Equal(t, flow.Success, rel)
	routed := session.Transferred(flow.Success)
	require.Len(t, routed, 1)
	assert.Equal(t, "[]", string(routed[0].Body()))
}

func TestProcess_TimeoutBoundsExtraction(t *testing.T) {
	p := newProcessor(t, blockingExtractor{}, processor.Config{URL: pageURL, Timeout: 20 * time.Millisecond})
	session := flow.NewMemorySession()

	start := time.Now()
	rel, err := p.Process(context.Background(), session, flow.NewUnit())

	assert.Equal(t, flow.Failure, rel)
	assert.ErrorIs(t, err, processor.ErrExtraction)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcess_CallerCancellation(t *testing.T) {
	p := newProcessor(t, blockingExtractor{}, processor.Config{URL: pageURL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rel, err := p.Process(ctx, flow.NewMemorySession(), flow.NewUnit())

	assert.Equal(t, flow.Failure, rel)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_ConcurrentUnitsRouteExactlyOnce(t *testing.T) {
	extractor := new(MockImageExtractor)
	extractor.On("ExtractImages", mock.Anything, pageURL).Return([]types.Image{{Src: "http://example.test/a.png"}}, nil)
	extractor.On("ExtractImages", mock.Anything, "http://example.test/broken").Return(nil, errors.New("boom"))

	p := newProcessor(t, extractor, processor.Config{URL: pageURL})
	session := flow.NewMemorySession()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := flow.NewUnit()
			if i%4 == 0 {
				unit.SetAttribute("url", "http://example.test/broken")
			}
			p.OnTrigger(context.Background(), session, unit)
		}(i)
	}
	wg.Wait()

	assert.Len(t, session.Transferred(flow.Failure), n/4)
	assert.Len(t, session.Transferred(flow.Success), n-n/4)
}

func TestDeclarations(t *testing.T) {
	p := newProcessor(t, new(MockImageExtractor), processor.Config{})

	props := p.Properties()
	require.Len(t, props, 1)
	assert.Equal(t, "url", props[0].Name)
	assert.True(t, props[0].Required)

	assert.Equal(t, []flow.Relationship{flow.Success, flow.Failure}, p.Relationships())
	assert.Equal(t, []string{"url"}, p.ReadsAttributes())

	withDefault := newProcessor(t, new(MockImageExtractor), processor.Config{URL: pageURL})
	assert.Equal(t, pageURL, withDefault.ResolveURL(flow.NewUnit()))

	assert.ErrorIs(t, p.Validate(), flow.ErrEmptyValue)
	assert.NoError(t, newProcessor(t, new(MockImageExtractor), processor.Config{URL: pageURL}).Validate())
}
