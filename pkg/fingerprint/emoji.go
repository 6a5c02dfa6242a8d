package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
)

var emojiList = []string{
	"😀", "👻", "👍", "👑", "🎃", "😎", "😍", "😂",
	"🐶", "🐱", "🦁", "🐹", "🐰", "🦊", "🐻", "🐼",
	"🌸", "🌼", "🪷", "🌹", "🌺", "🍁", "🌳", "🌵",
	"🍎", "🍌", "🍇", "🍓", "🍒", "🍕", "🍔", "🍟",
	"☕️", "🍦", "🥕", "☀️", "🌙", "❄️", "☁️", "🧂",
	"💡", "🍹", "💍", "📷", "🎀", "🎮", "🎲", "🍩",
	"❤️", "🎁", "⏰", "🎈", "🧲", "🔑", "🚗️", "🚀",
	"✨", "🔥", "🌈", "🍉", "🎶", "🔒", "📌", "✅",
}

// Emoji maps an identity key to eight emoji for quick visual comparison.
func Emoji(s []byte) []string {
	hash := sha256.Sum256(s)
	l := uint32(len(emojiList))
	emojis := make([]string, 8)
	for i := range 8 {
		num := binary.BigEndian.Uint32(hash[i*4 : i*4+4])
		emojis[i] = emojiList[num%l]
	}
	return emojis
}
