package visualize

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// opencensus, pulled in by the genai auth stack, starts its stats
		// worker at init.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

var request = pipeline.VisualizeRequest{
	Prompt: "A photorealistic gaming PC with AMD Ryzen 5 7600",
	Query:  "pink gaming pc under $1200",
	Theme:  "pink",
}

type MockRenderer struct {
	mock.Mock
	name string
}

func (m *MockRenderer) Name() string { return m.name }

func (m *MockRenderer) Visualize(ctx context.Context, req pipeline.VisualizeRequest) (pipeline.VisualizationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pipeline.VisualizationResult), args.Error(1)
}

func TestStockImageURL(t *testing.T) {
	tests := []struct {
		theme, query, want string
	}{
		{"pink", "", PinkImageURL},
		{"white", "", WhiteImageURL},
		{"black", "", DefaultImageURL},
		{"", "an all WHITE build", WhiteImageURL},
		{"", "pink and white", PinkImageURL},
		{"", "budget office pc", DefaultImageURL},
		{"blue", "pink case please", DefaultImageURL},
	}
	for _, tt := range tests {
		t.Run(tt.theme+"/"+tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, StockImageURL(tt.theme, tt.query))
		})
	}
}

func TestStockRenderer(t *testing.T) {
	res, err := StockRenderer{}.Visualize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, PinkImageURL, res.ImageRef)
	assert.Equal(t, StockSource, res.Source)
	assert.Equal(t, request.Prompt, res.Prompt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = StockRenderer{}.Visualize(ctx, request)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChain_FallsBack(t *testing.T) {
	log := logging.NewTestLogger()
	primary := &MockRenderer{name: "primary"}
	primary.On("Visualize", mock.Anything, request).
		Return(pipeline.VisualizationResult{}, errors.New("quota exceeded")).Once()

	chain := NewChain(log.Logger, primary, nil, StockRenderer{})
	res, err := chain.Visualize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, PinkImageURL, res.ImageRef)
	primary.AssertExpectations(t)
	log.AssertLogged(t, zapcore.WarnLevel, "renderer failed")
}

func TestChain_FirstSuccessWins(t *testing.T) {
	primary := &MockRenderer{name: "primary"}
	primary.On("Visualize", mock.Anything, request).
		Return(pipeline.VisualizationResult{ImageRef: "https://cdn/x.png", Source: "imagen"}, nil).Once()
	secondary := &MockRenderer{name: "secondary"}

	res, err := NewChain(nil, primary, secondary).Visualize(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.png", res.ImageRef)
	assert.Equal(t, request.Prompt, res.Prompt, "prompt is filled in when the renderer omits it")
	secondary.AssertNotCalled(t, "Visualize", mock.Anything, mock.Anything)
}

func TestChain_AllFail(t *testing.T) {
	a := &MockRenderer{name: "a"}
	a.On("Visualize", mock.Anything, mock.Anything).Return(pipeline.VisualizationResult{}, errors.New("boom"))
	b := &MockRenderer{name: "b"}
	b.On("Visualize", mock.Anything, mock.Anything).Return(pipeline.VisualizationResult{}, errors.New("bang"))

	_, err := NewChain(nil, a, b).Visualize(context.Background(), request)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Contains(t, err.Error(), "b: bang")

	_, err = NewChain(nil).Visualize(context.Background(), request)
	assert.Error(t, err)
}

func TestChain_StopsWhenCanceled(t *testing.T) {
	a := &MockRenderer{name: "a"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain(nil, a).Visualize(ctx, request)
	assert.ErrorIs(t, err, context.Canceled)
	a.AssertNotCalled(t, "Visualize", mock.Anything, mock.Anything)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	data := []byte{0x89, 'P', 'N', 'G'}

	ref, err := s.Put(context.Background(), "/renders/a.png", "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(data), ref)

	data[0] = 0
	got, ct, err := s.Get("renders/a.png")
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), got[0], "stored bytes are copied")
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, 1, s.Len())

	_, _, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(context.Background(), "  ", "image/png", data)
	assert.Error(t, err)
}

type fakeObjects struct {
	exists     bool
	existsErr  error
	madeBucket int
	puts       map[string]string
	putErr     error
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjects) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.madeBucket++
	f.exists = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	b, _ := io.ReadAll(reader)
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[bucket+"/"+object] = opts.ContentType + ":" + string(b)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, object string, expiry time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://s3.local/" + bucket + "/" + object + "?X-Amz-Expires=" + expiry.String())
}

func TestMinioStore_Put(t *testing.T) {
	objects := &fakeObjects{}
	s := newMinioStore(objects, "renders", "us-east-1", 0)

	ref, err := s.Put(context.Background(), "renders/a.png", "image/png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/renders/renders/a.png?X-Amz-Expires=1h0m0s", ref)
	assert.Equal(t, "image/png:img", objects.puts["renders/renders/a.png"])

	_, err = s.Put(context.Background(), "renders/b.png", "image/png", []byte("img2"))
	require.NoError(t, err)
	assert.Equal(t, 1, objects.madeBucket, "bucket is created once")
}

func TestMinioStore_Errors(t *testing.T) {
	objects := &fakeObjects{existsErr: errors.New("unreachable")}
	s := newMinioStore(objects, "renders", "us-east-1", time.Minute)
	_, err := s.Put(context.Background(), "a.png", "image/png", nil)
	assert.ErrorContains(t, err, "ensure bucket")

	objects.existsErr = nil
	objects.exists = true
	objects.putErr = errors.New("denied")
	_, err = s.Put(context.Background(), "a.png", "image/png", nil)
	assert.ErrorContains(t, err, "denied")
}

func TestNewMinioStore_Validation(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{})
	assert.Error(t, err)
	_, err = NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
	_, err = NewMinioStore(MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)

	s, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "renders"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.expiry)
}

type fakeImages struct {
	resp   *genai.GenerateImagesResponse
	err    error
	config *genai.GenerateImagesConfig
}

func (f *fakeImages) GenerateImages(_ context.Context, _, _ string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.config = config
	return f.resp, f.err
}

func TestImagenRenderer(t *testing.T) {
	images := &fakeImages{resp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{
			{Image: &genai.Image{}},
			{Image: &genai.Image{ImageBytes: []byte("jpeg-bytes"), MIMEType: "image/jpeg"}},
		},
	}}
	store := NewMemoryStore()
	r, err := newImagenRenderer(images, "imagen-3.0-generate-002", store)
	require.NoError(t, err)

	res, err := r.Visualize(context.Background(), request)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ImageRef, "data:image/jpeg;base64,"))
	assert.Equal(t, "imagen:imagen-3.0-generate-002", res.Source)
	assert.Equal(t, request.Prompt, res.Prompt)
	assert.Equal(t, "16:9", images.config.AspectRatio)
	assert.Equal(t, int32(1), images.config.NumberOfImages)
	assert.Equal(t, 1, store.Len())
}

func TestImagenRenderer_Errors(t *testing.T) {
	images := &fakeImages{err: genai.APIError{Code: 429, Message: "quota"}}
	r, err := newImagenRenderer(images, "imagen", NewMemoryStore())
	require.NoError(t, err)

	_, err = r.Visualize(context.Background(), request)
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 429, te.StatusCode)

	images.err = nil
	images.resp = &genai.GenerateImagesResponse{}
	_, err = r.Visualize(context.Background(), request)
	assert.ErrorContains(t, err, "no image returned")

	_, err = r.Visualize(context.Background(), pipeline.VisualizeRequest{})
	assert.ErrorContains(t, err, "prompt is empty")

	_, err = newImagenRenderer(images, "", NewMemoryStore())
	assert.Error(t, err)
	_, err = newImagenRenderer(images, "imagen", nil)
	assert.Error(t, err)
}
