package fingerprint

import (
	"math/rand/v2"
)

var adjectives = []string{
	"agile", "ancient", "bashful", "bold", "brave", "bright",
	"calm", "clever", "curious", "daring", "eager", "fancy", "fast",
	"fierce", "fuzzy", "gentle", "giant", "happy", "hungry", "jolly",
	"lazy", "lively", "lucky", "mighty", "noisy", "peaceful",
	"playful", "proud", "quiet", "quick", "rapid", "rare", "restless",
	"sassy", "shiny", "shy", "silent", "sleepy", "smart", "sneaky",
	"speedy", "spicy", "stealthy", "strong", "sweet", "swift",
	"tiny", "tough", "vivid", "wild", "wise", "zany",
}

var nouns = []string{
	"ant", "badger", "bat", "bear", "beaver", "bee", "bison", "boar",
	"camel", "cat", "cobra", "cougar", "crab", "crane", "crow",
	"deer", "dolphin", "dragon", "duck", "eagle", "falcon", "ferret",
	"fox", "frog", "goat", "goose", "hamster", "hawk", "heron",
	"jackal", "jaguar", "kangaroo", "koala", "leopard", "lion",
	"lizard", "llama", "lynx", "moose", "mouse", "octopus",
	"otter", "owl", "panda", "panther", "parrot", "penguin",
	"rabbit", "raccoon", "raven", "seal", "shark", "sloth",
	"sparrow", "squid", "swan", "tiger", "turtle", "weasel",
	"whale", "wolf", "wren", "zebra",
}

// Pseudonym returns a readable default alias for a fresh identity.
func Pseudonym() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return adj + " " + noun
}
