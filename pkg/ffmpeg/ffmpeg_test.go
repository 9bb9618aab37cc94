package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg/ffmpegtest"
)

func TestFilterRendering(t *testing.T) {
	tests := []struct {
		name   string
		filter ffmpeg.Filter
		want   string
	}{
		{"atempo", ffmpeg.ATempo(1.5), "atempo=1.5"},
		{"anullsrc", ffmpeg.ANullSrc(44100, "stereo"), "anullsrc=r=44100:cl=stereo"},
		{"afade out", ffmpeg.AFade(ffmpeg.FadeOut, 0, 3), "afade=t=out:st=0:d=3"},
		{"adelay", ffmpeg.ADelay(12.345), "adelay=12345|12345"},
		{"amix", ffmpeg.AMix(2, ffmpeg.MixFirst, 2), "amix=inputs=2:duration=first:dropout_transition=2"},
		{"xfade", ffmpeg.XFade("wipeleft", 0.5, 9.5), "xfade=transition=wipeleft:duration=0.5:offset=9.5"},
		{"concat", ffmpeg.Concat(3, 0, 1), "concat=n=3:v=0:a=1"},
		{"scale fit", ffmpeg.ScaleFit(1920, 1080), "scale=1920x1080:force_original_aspect_ratio=decrease"},
		{"pad", ffmpeg.PadCenter(1920, 1080), "pad=1920:1080:(ow-iw)/2:(oh-ih)/2"},
		{"tpad", ffmpeg.TPadClone(4), "tpad=start_duration=4:start_mode=clone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.String())
		})
	}
}

func TestSubtitlesFilterEscapesPath(t *testing.T) {
	f := ffmpeg.Subtitles("/tmp/a:b/sub's.srt", "FontSize=22")
	assert.Equal(t, `subtitles=/tmp/a\:b/sub\'s.srt:force_style='FontSize=22'`, f.String())
}

func TestGraphRendering(t *testing.T) {
	g := &ffmpeg.Graph{}
	g.Add([]string{"1:a"}, []string{"intro"}, ffmpeg.AFade(ffmpeg.FadeOut, 2, 3), ffmpeg.Volume(0.3))
	g.Add([]string{"0:a", "intro"}, []string{"outa"}, ffmpeg.AMix(2, ffmpeg.MixFirst, 2))

	assert.Equal(t,
		"[1:a]afade=t=out:st=2:d=3,volume=0.3[intro];[0:a][intro]amix=inputs=2:duration=first:dropout_transition=2[outa]",
		g.String())

	f, ok := g.Find("volume")
	require.True(t, ok)
	assert.Equal(t, "volume=0.3", f.String())
}

func TestCommandArgs(t *testing.T) {
	cmd := &ffmpeg.Command{
		Inputs:     []ffmpeg.Input{ffmpeg.Lavfi(ffmpeg.ANullSrc(44100, "stereo"), 2)},
		OutputArgs: ffmpeg.MP3Args,
		Output:     "/tmp/silence.mp3",
	}
	args := strings.Join(cmd.Args(), " ")
	assert.Contains(t, args, "-f lavfi -t 2 -i anullsrc=r=44100:cl=stereo")
	assert.True(t, strings.HasSuffix(args, "/tmp/silence.mp3"))
	assert.True(t, strings.HasPrefix(args, "-y"))
}

func TestConcatListQuoting(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")
	files := []string{filepath.Join(dir, "a.mp3"), filepath.Join(dir, "it's.mp3")}

	require.NoError(t, ffmpeg.WriteConcatList(list, files))
	data, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Contains(t, string(data), `it'\''s.mp3`)

	got, err := ffmpeg.ReadConcatList(list)
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestRunnerChecksOutputExistence(t *testing.T) {
	fake := ffmpegtest.New()
	fake.NoOutputWhen = func(args []string) bool { return true }
	runner := ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})

	out := filepath.Join(t.TempDir(), "out.mp3")
	err := runner.Run(context.Background(), &ffmpeg.Command{
		Stage:  "silence",
		Inputs: []ffmpeg.Input{ffmpeg.Lavfi(ffmpeg.ANullSrc(44100, "stereo"), 1)},
		Output: out,
	})
	assert.True(t, errors.Is(err, ffmpeg.ErrMissingOutput))
}

func TestRunnerPropagatesFailure(t *testing.T) {
	fake := ffmpegtest.New()
	fake.FailWhen = func(args []string) bool { return true }
	runner := ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})

	err := runner.Run(context.Background(), &ffmpeg.Command{Output: filepath.Join(t.TempDir(), "x.mp4")})
	assert.True(t, errors.Is(err, ffmpeg.ErrCommandFailed))
}

func TestRunnerProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	fake := ffmpegtest.New()
	fake.SetDuration(path, 12.5)
	runner := ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})

	d, err := runner.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, d, 1e-6)

	_, err = runner.Probe(context.Background(), filepath.Join(dir, "missing.mp3"))
	assert.True(t, errors.Is(err, ffmpeg.ErrProbe))
}

func TestRunnerCancelledContext(t *testing.T) {
	fake := ffmpegtest.New()
	runner := ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runner.Run(ctx, &ffmpeg.Command{Output: filepath.Join(t.TempDir(), "x.mp4")})
	assert.True(t, errors.Is(err, ffmpeg.ErrTimeout))
}

func TestFakeSimulatesConcatDuration(t *testing.T) {
	dir := t.TempDir()
	fake := ffmpegtest.New()
	runner := ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})

	var files []string
	for i, d := range []float64{1.5, 2.0, 3.25} {
		p := filepath.Join(dir, string(rune('a'+i))+".mp3")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		fake.SetDuration(p, d)
		files = append(files, p)
	}
	list := filepath.Join(dir, "list.txt")
	require.NoError(t, ffmpeg.WriteConcatList(list, files))

	out := filepath.Join(dir, "out.mp3")
	require.NoError(t, runner.Run(context.Background(), &ffmpeg.Command{
		Inputs:     []ffmpeg.Input{ffmpeg.ConcatList(list)},
		OutputArgs: ffmpeg.CopyArgs,
		Output:     out,
	}))

	d, err := runner.Probe(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 6.75, d, 1e-6)
}
