// Package compose 负责画面侧的合成：场景时长分配、图片转视频、转场拼接、
// 字幕烧录与背景/片头/片尾音乐混音。
package compose

import (
	"errors"
	"unicode/utf8"
)

// ErrNoScenes 没有可分配的场景
var ErrNoScenes = errors.New("no scenes to allocate")

// Scene 一个场景片段及其分配到的时长
type Scene struct {
	ClipRef           string  `json:"clip_ref"`
	Text              string  `json:"text,omitempty"`
	AllocatedDuration float64 `json:"allocated_duration"`
}

// AllocateOptions 时长分配参数
type AllocateOptions struct {
	// MinDuration 单个场景最短时长
	MinDuration float64
	// TransitionDuration 相邻场景之间转场重叠的时长
	TransitionDuration float64
}

// DefaultAllocateOptions 场景下限 3s，转场 0.5s
func DefaultAllocateOptions() AllocateOptions {
	return AllocateOptions{MinDuration: 3.0, TransitionDuration: 0.5}
}

// TextWeights 以字符数作为权重，最小为 1
func TextWeights(texts []string) []float64 {
	w := make([]float64, len(texts))
	for i, t := range texts {
		n := utf8.RuneCountInString(t)
		if n < 1 {
			n = 1
		}
		w[i] = float64(n)
	}
	return w
}

const allocEpsilon = 1e-6

// AllocateDurations 按权重把总时长 total 分配给各场景，返回的时长之和等于 total。
//
// 先从 total 中预留 (N-1)×转场时长，剩余部分按权重比例分配并施加下限；
// 总和偏离时整体缩放一次并重新施加下限。之后每个非末尾场景加回它在转场中被吃掉的时长，
// 剩余误差为正时补给最后一个场景，为负时按各场景超出下限的部分等比扣除。
// 若 N×下限 > total，下限退化为 total/N。
func AllocateDurations(weights []float64, total float64, opts AllocateOptions) ([]float64, error) {
	n := len(weights)
	if n == 0 {
		return nil, ErrNoScenes
	}
	if total <= 0 {
		return nil, errors.New("total duration must be positive")
	}

	floor := opts.MinDuration
	if floor < 0 {
		floor = 0
	}
	if floor*float64(n) > total {
		floor = total / float64(n)
	}
	td := opts.TransitionDuration
	if td < 0 {
		td = 0
	}

	reserve := float64(n-1) * td
	available := total - reserve
	if available < 0 {
		available = 0
	}

	sumW := 0.0
	for _, w := range weights {
		if w < 1 {
			w = 1
		}
		sumW += w
	}

	shares := make([]float64, n)
	sumShares := 0.0
	for i, w := range weights {
		if w < 1 {
			w = 1
		}
		shares[i] = max(floor, available*w/sumW)
		sumShares += shares[i]
	}

	if sumShares > 0 && abs(sumShares-available) > allocEpsilon {
		scale := available / sumShares
		for i := range shares {
			shares[i] = max(floor, shares[i]*scale)
		}
	}

	durations := make([]float64, n)
	sum := 0.0
	for i, s := range shares {
		durations[i] = s
		if i < n-1 {
			durations[i] += td
		}
		sum += durations[i]
	}

	residual := total - sum
	switch {
	case residual > 0:
		durations[n-1] += residual
	case residual < 0:
		headroom := 0.0
		for _, d := range durations {
			headroom += d - floor
		}
		if headroom > 0 {
			excess := -residual
			for i, d := range durations {
				durations[i] = d - excess*(d-floor)/headroom
			}
		}
	}
	return durations, nil
}

// CompositeDuration 按给定时长转场拼接后成片的长度
func CompositeDuration(durations []float64, transition float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	return sum - float64(len(durations)-1)*transition
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
