package indexer

import "strings"

// chunkLines splits src into overlapping fixed-size windows, used for every
// extension the indexer has no structural parser for, and as the fallback
// when a .go file fails to parse. target/overlap are line counts from
// IndexerConfig.
func chunkLines(relPath, language string, src []byte, target, overlap int) []Chunk {
	if target <= 0 {
		target = 80
	}
	if overlap < 0 || overlap >= target {
		overlap = 0
	}

	lines := strings.Split(string(src), "\n")
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	step := target - overlap
	for start := 0; start < len(lines); start += step {
		end := start + target
		if end > len(lines) {
			end = len(lines)
		}
		code := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(code) != "" {
			chunks = append(chunks, newChunk(relPath, language, "module", "", start+1, end, "", code))
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
