package vault

import (
	"math/bits"

	"github.com/tickvault/tickvault/pkg/tickmath"
)

// tickBitmap tracks which ticks currently hold live positions. Ticks
// are shifted by -MinTick into a non-negative index space and packed 64
// per word; words are stored sparsely so an idle grid costs nothing.
type tickBitmap struct {
	words map[int]uint64
}

func newTickBitmap() *tickBitmap {
	return &tickBitmap{words: make(map[int]uint64)}
}

func bitmapPos(tick int) (word int, bit uint) {
	idx := tick - tickmath.MinTick
	return idx >> 6, uint(idx & 63)
}

func (b *tickBitmap) set(tick int) {
	word, bit := bitmapPos(tick)
	b.words[word] |= 1 << bit
}

func (b *tickBitmap) clear(tick int) {
	word, bit := bitmapPos(tick)
	w := b.words[word] &^ (1 << bit)
	if w == 0 {
		delete(b.words, word)
	} else {
		b.words[word] = w
	}
}

func (b *tickBitmap) isSet(tick int) bool {
	word, bit := bitmapPos(tick)
	return b.words[word]&(1<<bit) != 0
}

// highestSetAtOrBelow scans word by word for the highest populated tick
// not above the given tick. The per-word scan is a single Len64.
func (b *tickBitmap) highestSetAtOrBelow(tick int) (int, bool) {
	if tick > tickmath.MaxTick {
		tick = tickmath.MaxTick
	}
	if tick < tickmath.MinTick {
		return 0, false
	}
	word, bit := bitmapPos(tick)
	// partial top word: mask off bits above the requested tick
	if w := b.words[word] & (^uint64(0) >> (63 - bit)); w != 0 {
		return wordTick(word, bits.Len64(w)-1), true
	}
	for word--; word >= 0; word-- {
		if w := b.words[word]; w != 0 {
			return wordTick(word, bits.Len64(w)-1), true
		}
	}
	return 0, false
}

func wordTick(word, bit int) int {
	return word<<6 + bit + tickmath.MinTick
}
