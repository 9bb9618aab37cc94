package chunk

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
)

// NearDuplicateDistance 汉明距离不超过该值的两个块作为重复候选
const NearDuplicateDistance = 3

// DuplicateSimilarity 候选块与已保留块的 bigram 相似度达到该值才视为重复
const DuplicateSimilarity = 0.9

// textFeatures 字符级 bigram 特征，跳过空白与标点
type textFeatures struct {
	text string
}

func (t textFeatures) GetFeatures() []simhash.Feature {
	runes := []rune(strings.ToLower(strings.TrimSpace(t.text)))
	features := make([]simhash.Feature, 0, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		if skipRune(runes[i]) || skipRune(runes[i+1]) {
			continue
		}
		features = append(features, simhash.NewFeature([]byte(string(runes[i:i+2]))))
	}
	if len(features) == 0 {
		for _, r := range runes {
			if !skipRune(r) {
				features = append(features, simhash.NewFeature([]byte(string(r))))
			}
		}
	}
	return features
}

func skipRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// Fingerprint 文本的 64 位 simhash 指纹
func Fingerprint(text string) uint64 {
	return simhash.NewSimhash().GetSimhash(textFeatures{text: text})
}

// Distance 两个指纹的汉明距离
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Dedup 去掉与前面某个块近似重复的块，返回保留的块与被去掉的数量。Index 重新编号。
// simhash 只筛选候选，短句指纹区分度不够，需再由 Similarity 确认。
func Dedup(chunks []Chunk) ([]Chunk, int) {
	kept := make([]Chunk, 0, len(chunks))
	prints := make([]uint64, 0, len(chunks))
	removed := 0
	for _, c := range chunks {
		fp := Fingerprint(c.Text)
		dup := false
		for i, p := range prints {
			if Distance(fp, p) <= NearDuplicateDistance && Similarity(c.Text, kept[i].Text) >= DuplicateSimilarity {
				dup = true
				break
			}
		}
		if dup {
			removed++
			continue
		}
		prints = append(prints, fp)
		c.Index = len(kept)
		kept = append(kept, c)
	}
	return kept, removed
}

// Similarity 两段文本的字符 bigram Dice 系数，0~1。空白先被折叠。
func Similarity(a, b string) float64 {
	ga, gb := bigrams(collapseSpace(a)), bigrams(collapseSpace(b))
	total := 0
	for _, n := range ga {
		total += n
	}
	for _, n := range gb {
		total += n
	}
	if total == 0 {
		if collapseSpace(a) == collapseSpace(b) {
			return 1
		}
		return 0
	}
	shared := 0
	for g, n := range ga {
		shared += min(n, gb[g])
	}
	return 2 * float64(shared) / float64(total)
}

func bigrams(s string) map[string]int {
	runes := []rune(strings.ToLower(s))
	out := make(map[string]int, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}
