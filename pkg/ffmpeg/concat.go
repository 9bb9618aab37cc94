package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteConcatList 写出 concat demuxer 列表文件，路径转为绝对路径并转义单引号
func WriteConcatList(listFile string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("解析路径失败 %s: %w", f, err)
		}
		b.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}
	if err := os.WriteFile(listFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("写入拼接列表失败: %w", err)
	}
	return nil
}

// ReadConcatList 读取列表文件中的路径，按顺序返回
func ReadConcatList(listFile string) ([]string, error) {
	data, err := os.ReadFile(listFile)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file ") {
			continue
		}
		p := strings.TrimPrefix(line, "file ")
		p = strings.TrimPrefix(p, "'")
		p = strings.TrimSuffix(p, "'")
		files = append(files, strings.ReplaceAll(p, `'\''`, "'"))
	}
	return files, nil
}
