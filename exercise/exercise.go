// Package exercise holds the catalog of practice exercises and the target
// phrases offered for each.
package exercise

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

type ID string

const (
	Articulation    ID = "articulation"
	Breathing       ID = "breathing"
	TongueTwisters  ID = "tongue-twisters"
	VowelSounds     ID = "vowel-sounds"
	ConsonantBlends ID = "consonant-blends"
	Fluency         ID = "fluency"
)

const Default = Articulation

type Exercise struct {
	ID      ID
	Name    string
	Phrases []string
}

var catalog = []Exercise{
	{Articulation, "Articulation Practice", []string{
		"The quick brown fox jumps over the lazy dog",
		"She sells seashells by the seashore",
		"Red leather, yellow leather",
	}},
	{Breathing, "Breathing Exercises", []string{
		"Take a deep breath and speak slowly",
		"Breathe in through your nose, out through your mouth",
		"Control your breathing while speaking",
	}},
	{TongueTwisters, "Tongue Twisters", []string{
		"Peter Piper picked a peck of pickled peppers",
		"How much wood would a woodchuck chuck",
		"Unique New York, you know you need unique New York",
	}},
	{VowelSounds, "Vowel Sounds", []string{
		"The cat sat on the mat",
		"I see three green trees",
		"Old oak trees grow slowly",
	}},
	{ConsonantBlends, "Consonant Blends", []string{
		"Strong spring storms strike swiftly",
		"Bright blue birds build big nests",
		"Fresh fruit from the farm",
	}},
	{Fluency, "Fluency Training", []string{
		"Speak slowly and clearly with confidence",
		"Practice makes perfect progress possible",
		"Smooth speech sounds soothing and strong",
	}},
}

func All() []Exercise {
	out := make([]Exercise, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup accepts either the ID or the display name, case-insensitively.
func Lookup(key string) (Exercise, error) {
	for _, e := range catalog {
		if strings.EqualFold(string(e.ID), key) || strings.EqualFold(e.Name, key) {
			return e, nil
		}
	}
	return Exercise{}, fmt.Errorf("unknown exercise %q", key)
}

func MustLookup(id ID) Exercise {
	e, err := Lookup(string(id))
	if err != nil {
		panic(err)
	}
	return e
}

// Next returns the exercise after id in catalog order, wrapping around.
func Next(id ID) Exercise {
	for i, e := range catalog {
		if e.ID == id {
			return catalog[(i+1)%len(catalog)]
		}
	}
	return catalog[0]
}

// Phrase picks one of the exercise's target phrases.
func (e Exercise) Phrase(r *rand.Rand) string {
	if len(e.Phrases) == 0 {
		return ""
	}
	if r == nil {
		return e.Phrases[rand.IntN(len(e.Phrases))]
	}
	return e.Phrases[r.IntN(len(e.Phrases))]
}
