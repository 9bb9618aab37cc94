package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FormatTimestamp 秒数转为 SRT 时间码 HH:MM:SS,mmm
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	hours := totalMs / 3600000
	minutes := (totalMs / 60000) % 60
	secs := (totalMs / 1000) % 60
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms)
}

// ParseTimestamp 解析 SRT 时间码，也接受 . 作为毫秒分隔符
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(strings.Replace(s, ".", ",", 1))
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, fmt.Errorf("无效的时间码: %q", s)
	}
	hms := strings.Split(parts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("无效的时间码: %q", s)
	}
	var vals [4]int
	for i, p := range append(hms, parts[1]) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("无效的时间码: %q", s)
		}
		vals[i] = v
	}
	return float64(vals[0]*3600+vals[1]*60+vals[2]) + float64(vals[3])/1000, nil
}

// Encode 生成 SRT 文本
func Encode(t Track) string {
	var b strings.Builder
	for i, e := range t.Entries {
		idx := e.Index
		if idx <= 0 {
			idx = i + 1
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", idx, FormatTimestamp(e.Start), FormatTimestamp(e.End), e.Text)
	}
	return b.String()
}

// WriteFile 写入 SRT 文件
func WriteFile(path string, t Track) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Encode(t)), 0644)
}

// Decode 解析 SRT。逐行状态机：序号 → 时间 → 文本，空行结束一条。
func Decode(r io.Reader) (Track, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)

	current := Entry{}
	state := 0
	var text []string

	flush := func() {
		if current.Index != 0 {
			current.Text = strings.Join(text, "\n")
			entries = append(entries, current)
		}
		current = Entry{}
		text = nil
		state = 0
	}

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			flush()
			continue
		}

		switch state {
		case 0:
			id, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			current.Index = id
			state = 1
		case 1:
			parts := strings.Split(line, "-->")
			if len(parts) != 2 {
				return Track{}, fmt.Errorf("第 %d 条字幕时间行无效: %q", current.Index, line)
			}
			start, err := ParseTimestamp(parts[0])
			if err != nil {
				return Track{}, err
			}
			end, err := ParseTimestamp(parts[1])
			if err != nil {
				return Track{}, err
			}
			current.Start, current.End = start, end
			state = 2
		case 2:
			text = append(text, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Track{}, err
	}
	flush()

	return Track{Entries: entries}, nil
}

// ReadFile 读取 SRT 文件
func ReadFile(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, err
	}
	defer f.Close()
	return Decode(f)
}
