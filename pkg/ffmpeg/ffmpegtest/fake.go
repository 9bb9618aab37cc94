// Package ffmpegtest 提供不启动真实进程的转码器替身
package ffmpegtest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
)

// FakeExecutor 记录所有命令，按参数推算输出时长并创建输出文件
type FakeExecutor struct {
	mu       sync.Mutex
	Requests []ffmpeg.CommandRequest
	// Durations 已知媒体时长，ffprobe 从这里读取；fake 生成的输出也会写回这里
	Durations map[string]float64
	// DefaultDuration 未登记文件的时长
	DefaultDuration float64
	// FailWhen 返回 true 的 ffmpeg 命令以非零状态失败
	FailWhen func(args []string) bool
	// NoOutputWhen 返回 true 的 ffmpeg 命令“成功”退出但不生成文件
	NoOutputWhen func(args []string) bool
}

// New 创建替身
func New() *FakeExecutor {
	return &FakeExecutor{Durations: make(map[string]float64)}
}

// SetDuration 登记文件时长
func (f *FakeExecutor) SetDuration(path string, d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Durations[path] = d
}

// Duration 读取登记的时长
func (f *FakeExecutor) Duration(path string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Durations[path]
	return d, ok
}

// FFmpegCalls 返回所有 ffmpeg 调用的参数
func (f *FakeExecutor) FFmpegCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls [][]string
	for _, r := range f.Requests {
		if filepath.Base(r.Command) == "ffmpeg" {
			calls = append(calls, r.Args)
		}
	}
	return calls
}

// CallsContaining 返回参数中包含 substr 的 ffmpeg 调用
func (f *FakeExecutor) CallsContaining(substr string) [][]string {
	var out [][]string
	for _, args := range f.FFmpegCalls() {
		if strings.Contains(strings.Join(args, " "), substr) {
			out = append(out, args)
		}
	}
	return out
}

// Execute 实现 ffmpeg.Executor
func (f *FakeExecutor) Execute(ctx context.Context, req ffmpeg.CommandRequest) (ffmpeg.CommandResponse, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ffmpeg.CommandResponse{ExitCode: -1}, fmt.Errorf("%w: %v", ffmpeg.ErrTimeout, err)
	}

	if filepath.Base(req.Command) == "ffprobe" {
		path := req.Args[len(req.Args)-1]
		d, ok := f.Duration(path)
		if !ok {
			if f.DefaultDuration <= 0 {
				return ffmpeg.CommandResponse{ExitCode: 1}, fmt.Errorf("%w: unknown media %s", ffmpeg.ErrCommandFailed, path)
			}
			d = f.DefaultDuration
		}
		return ffmpeg.CommandResponse{Success: true, Stdout: strconv.FormatFloat(d, 'f', 6, 64) + "\n"}, nil
	}

	if f.FailWhen != nil && f.FailWhen(req.Args) {
		return ffmpeg.CommandResponse{ExitCode: 1, Stderr: "forced failure"}, fmt.Errorf("%w: forced failure", ffmpeg.ErrCommandFailed)
	}

	output := req.Args[len(req.Args)-1]
	if f.NoOutputWhen != nil && f.NoOutputWhen(req.Args) {
		return ffmpeg.CommandResponse{Success: true}, nil
	}

	d := f.simulate(req.Args)
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return ffmpeg.CommandResponse{ExitCode: 1}, err
	}
	if err := os.WriteFile(output, []byte("fake media "+strconv.FormatFloat(d, 'f', 3, 64)), 0644); err != nil {
		return ffmpeg.CommandResponse{ExitCode: 1}, err
	}
	f.SetDuration(output, d)
	return ffmpeg.CommandResponse{Success: true}, nil
}

type fakeInput struct {
	path     string
	options  []string
	duration float64
	lavfi    bool
	concat   bool
	looped   bool
}

var (
	xfadeDurationRe = regexp.MustCompile(`xfade=transition=[a-z]+:duration=([0-9.]+)`)
	atempoRe        = regexp.MustCompile(`atempo=([0-9.]+)`)
	tpadRe          = regexp.MustCompile(`tpad=start_duration=([0-9.]+)`)
	firstDelayRe    = regexp.MustCompile(`\[0:a\]adelay=([0-9]+)\|`)
)

// simulate 根据参数推算输出时长
func (f *FakeExecutor) simulate(args []string) float64 {
	var inputs []fakeInput
	var pending []string
	var graph, af string
	outT := 0.0
	shortest := false
	mapped := map[int]bool{}

	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-i":
			in := fakeInput{path: args[i+1], options: pending}
			for j := 0; j < len(pending); j++ {
				switch pending[j] {
				case "lavfi":
					in.lavfi = true
				case "concat":
					in.concat = true
				case "-loop", "-stream_loop":
					in.looped = true
				case "-t":
					if j+1 < len(pending) {
						in.duration, _ = strconv.ParseFloat(pending[j+1], 64)
					}
				}
			}
			inputs = append(inputs, in)
			pending = nil
			i++
		case "-filter_complex":
			graph = args[i+1]
			i++
		case "-af":
			af = args[i+1]
			i++
		case "-vf":
			i++
		case "-t":
			if len(inputs) > 0 && !nextIsInput(args, i) {
				outT, _ = strconv.ParseFloat(args[i+1], 64)
				i++
			} else {
				pending = append(pending, args[i], args[i+1])
				i++
			}
		case "-map":
			if idx, err := strconv.Atoi(strings.SplitN(args[i+1], ":", 2)[0]); err == nil {
				mapped[idx] = true
			}
			i++
		case "-shortest":
			shortest = true
		default:
			if len(inputs) == 0 || nextInputAhead(args, i) {
				pending = append(pending, args[i])
			}
		}
	}

	durations := make([]float64, len(inputs))
	for k, in := range inputs {
		durations[k] = f.inputDuration(in)
	}

	if outT > 0 {
		return outT
	}
	if m := xfadeDurationRe.FindAllStringSubmatch(graph, -1); len(m) > 0 {
		total := 0.0
		for _, d := range durations {
			total += d
		}
		td, _ := strconv.ParseFloat(m[0][1], 64)
		return math.Max(0, total-float64(len(m))*td)
	}
	if m := atempoRe.FindStringSubmatch(af + graph); m != nil && len(durations) > 0 {
		factor, _ := strconv.ParseFloat(m[1], 64)
		if factor > 0 {
			return durations[0] / factor
		}
	}
	if strings.Contains(graph, "concat=n=") {
		total := 0.0
		for k, d := range durations {
			if !inputs[k].looped {
				total += d
			}
		}
		return total
	}
	if len(durations) == 0 {
		return 0
	}
	base := durations[0]
	if m := tpadRe.FindStringSubmatch(graph); m != nil {
		pad, _ := strconv.ParseFloat(m[1], 64)
		base += pad
	} else if m := firstDelayRe.FindStringSubmatch(graph); m != nil {
		ms, _ := strconv.ParseFloat(m[1], 64)
		base += ms / 1000
	}
	// -shortest 只约束直接映射到输出的输入流
	if shortest {
		best := 0.0
		if !inputs[0].looped && base > 0 {
			best = base
		}
		for k := 1; k < len(durations); k++ {
			if d := durations[k]; mapped[k] && !inputs[k].looped && d > 0 && (best == 0 || d < best) {
				best = d
			}
		}
		if best > 0 {
			base = best
		}
	}
	return base
}

func (f *FakeExecutor) inputDuration(in fakeInput) float64 {
	if in.lavfi {
		return in.duration
	}
	if in.concat {
		files, err := ffmpeg.ReadConcatList(in.path)
		if err != nil {
			return 0
		}
		total := 0.0
		for _, p := range files {
			if d, ok := f.Duration(p); ok {
				total += d
			} else {
				total += f.DefaultDuration
			}
		}
		return total
	}
	if d, ok := f.Duration(in.path); ok {
		return d
	}
	if in.looped {
		return 0
	}
	return f.DefaultDuration
}

func nextIsInput(args []string, i int) bool {
	return i+2 < len(args) && args[i+2] == "-i"
}

// nextInputAhead 判断当前参数之后是否还有 -i，用于区分输入选项与输出选项
func nextInputAhead(args []string, i int) bool {
	for j := i + 1; j < len(args); j++ {
		if args[j] == "-i" {
			return true
		}
	}
	return false
}
