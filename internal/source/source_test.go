package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Source
		wantErr error
	}{
		{
			name: "youtube watch",
			url:  "https://www.youtube.com/watch?v=fy_SkwBOcXA",
			want: Source{Kind: KindYouTube, URL: "https://www.youtube.com/watch?v=fy_SkwBOcXA", VideoID: "fy_SkwBOcXA"},
		},
		{
			name: "watch url on any host",
			url:  "https://example-video.test/watch?v=abc123",
			want: Source{Kind: KindYouTube, URL: "https://example-video.test/watch?v=abc123", VideoID: "abc123"},
		},
		{
			name: "watch url with extra params",
			url:  "https://www.youtube.com/watch?list=PL1&v=dQw4w9WgXcQ&t=42",
			want: Source{Kind: KindYouTube, URL: "https://www.youtube.com/watch?list=PL1&v=dQw4w9WgXcQ&t=42", VideoID: "dQw4w9WgXcQ"},
		},
		{
			name: "twitch",
			url:  "https://twitch.tv/somechannel",
			want: Source{Kind: KindTwitch, URL: "https://twitch.tv/somechannel"},
		},
		{
			name: "twitch www",
			url:  "https://www.twitch.tv/somechannel",
			want: Source{Kind: KindTwitch, URL: "https://www.twitch.tv/somechannel"},
		},
		{
			name: "stremio",
			url:  "http://127.0.0.1:11470/9d6bc3eab9687dcfe75b2933e7b46872726580aa/1",
			want: Source{Kind: KindStremio, URL: "http://127.0.0.1:11470/9d6bc3eab9687dcfe75b2933e7b46872726580aa/1"},
		},
		{
			name:    "unsupported",
			url:     "https://not-a-video.test/",
			wantErr: ErrUnsupportedURL,
		},
		{
			name:    "not a url",
			url:     "hello there",
			wantErr: ErrUnsupportedURL,
		},
		{
			name:    "watch without id",
			url:     "https://www.youtube.com/watch",
			wantErr: ErrVideoIDNotFound,
		},
		{
			name:    "watch with empty id",
			url:     "https://www.youtube.com/watch?v=",
			wantErr: ErrVideoIDNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.url)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, Source{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	a, errA := Classify("https://twitch.tv/x")
	b, errB := Classify("https://twitch.tv/x")
	assert.Equal(t, a, b)
	assert.Equal(t, errA, errB)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "youtube", KindYouTube.String())
	assert.Equal(t, "twitch", KindTwitch.String())
	assert.Equal(t, "stremio", KindStremio.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

type MockTab struct {
	mock.Mock
}

func (m *MockTab) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockTab) SendKeys(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type MockTranscoder struct {
	mock.Mock
}

func (m *MockTranscoder) Start(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

const playerURL = "http://localhost:8080/static/index.html"

func TestOpener_YouTube(t *testing.T) {
	tab := new(MockTab)
	tr := new(MockTranscoder)
	o := NewOpener(playerURL, tr, zaptest.NewLogger(t))

	tab.On("Navigate", mock.Anything, playerURL+"?youtube_video_id=abc123").Return(nil).Once()

	require.NoError(t, o.Open(context.Background(), tab, Source{Kind: KindYouTube, VideoID: "abc123"}))
	tab.AssertExpectations(t)
	tr.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestOpener_Twitch(t *testing.T) {
	tab := new(MockTab)
	o := NewOpener(playerURL, new(MockTranscoder), zaptest.NewLogger(t))

	var order []string
	tab.On("Navigate", mock.Anything, "https://twitch.tv/somechannel").Run(func(mock.Arguments) {
		order = append(order, "navigate")
	}).Return(nil)
	tab.On("SendKeys", mock.Anything, []string{TheatreModeKey}).Run(func(mock.Arguments) {
		order = append(order, "theatre")
	}).Return(nil)

	require.NoError(t, o.Open(context.Background(), tab, Source{Kind: KindTwitch, URL: "https://twitch.tv/somechannel"}))
	assert.Equal(t, []string{"navigate", "theatre"}, order)
}

func TestOpener_TwitchNavigateFails(t *testing.T) {
	tab := new(MockTab)
	o := NewOpener(playerURL, new(MockTranscoder), zaptest.NewLogger(t))

	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	tab.On("Navigate", mock.Anything, mock.Anything).Return(boom)

	err := o.Open(context.Background(), tab, Source{Kind: KindTwitch, URL: "https://twitch.tv/x"})
	assert.ErrorIs(t, err, boom)
	tab.AssertNotCalled(t, "SendKeys", mock.Anything, mock.Anything)
}

func TestOpener_Stremio(t *testing.T) {
	tab := new(MockTab)
	tr := new(MockTranscoder)
	o := NewOpener(playerURL, tr, zaptest.NewLogger(t))

	stream := "http://127.0.0.1:11470/abc/1"
	tr.On("Start", mock.Anything, stream).Return(nil).Once()
	tab.On("Navigate", mock.Anything, playerURL+"?is_stremio_video=1").Return(nil).Once()

	require.NoError(t, o.Open(context.Background(), tab, Source{Kind: KindStremio, URL: stream}))
	tr.AssertExpectations(t)
	tab.AssertExpectations(t)
}

func TestOpener_StremioTranscoderFails(t *testing.T) {
	tab := new(MockTab)
	tr := new(MockTranscoder)
	o := NewOpener(playerURL, tr, zaptest.NewLogger(t))

	boom := errors.New("spawn failed")
	tr.On("Start", mock.Anything, mock.Anything).Return(boom)

	err := o.Open(context.Background(), tab, Source{Kind: KindStremio, URL: "http://127.0.0.1:11470/abc/1"})
	assert.ErrorIs(t, err, boom)
	tab.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestOpener_UnknownKind(t *testing.T) {
	o := NewOpener(playerURL, new(MockTranscoder), zaptest.NewLogger(t))
	err := o.Open(context.Background(), new(MockTab), Source{URL: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestOpener_PlayerURLKeepsExistingQuery(t *testing.T) {
	o := NewOpener("http://player.local/static/index.html?autoplay=1", new(MockTranscoder), zaptest.NewLogger(t))

	got, err := o.PlayerURL(map[string][]string{"youtube_video_id": {"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "http://player.local/static/index.html?autoplay=1&youtube_video_id=abc", got)
}
