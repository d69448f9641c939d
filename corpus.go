package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Pair is one prompt/response exchange taken from consecutive utterances.
type Pair struct {
	Input  string
	Output string
}

// Pairs turns a run of utterances into (u[i], u[i+1]) pairs.
func Pairs(utterances []string) []Pair {
	if len(utterances) < 2 {
		return nil
	}
	pairs := make([]Pair, 0, len(utterances)-1)
	for i := 0; i < len(utterances)-1; i++ {
		pairs = append(pairs, Pair{Input: utterances[i], Output: utterances[i+1]})
	}
	return pairs
}

// A block with no lowercase letter at all is a play title, act or scene
// heading rather than speech.
var notLowercase = regexp.MustCompile(`^[^a-z]+$`)

// ReadShakespeare reads the plain-text complete works, one speech per
// blank-line separated block.
func ReadShakespeare(path string) ([]Pair, error) {
	data, err := readCorpusFile(path)
	if err != nil {
		return nil, err
	}
	blocks := strings.Split(data, "\n\n")
	speeches := blocks[:0]
	for _, block := range blocks {
		if notLowercase.MatchString(block) {
			continue
		}
		speeches = append(speeches, block)
	}
	return Pairs(speeches), nil
}

// CED markup. Word classes are spelled out as Unicode classes so accented
// spellings match. The font marker halves need lookaround and go through
// regexp2.
var (
	cedIntroText   = regexp.MustCompile(`(?i)<.+>`)
	cedNotesPlain  = regexp.MustCompile(`\[\^[^\^\]\[]+\^\]`)
	cedNotesNested = regexp.MustCompile(`\[\^[\p{L}\p{N}_\s"\(\)\^\.\,\d:-]+\^\]`)
	cedFont        = regexp.MustCompile(`\(\^[\p{L}\p{N}_ ']+\^\)`)
	cedAnotherFont = regexp.MustCompile(`\(\^ \(\\[^\^\)]+\\\) \^\)`)
	cedDialogue    = regexp.MustCompile(`\[\$[^$\]]+\$\]|\[\}[^\}]+\}\]`)

	cedPreFont         = regexp2.MustCompile(`\(\^(?=[\w ']+\^\))`, regexp2.IgnoreCase)
	cedPostFont        = regexp2.MustCompile(`(?<=[a-zA-Z])\^\)`, regexp2.IgnoreCase)
	cedPreAnotherFont  = regexp2.MustCompile(`\(\^ \(\\(?=[^\\\)]+\\\) \^\))`, regexp2.None)
	cedPostAnotherFont = regexp2.MustCompile(`(?<=[a-zA-Z.])\\\) \^\)`, regexp2.None)
)

// ReadCEDText extracts the spoken lines of one Corpus of English Dialogues
// plain-text file. Trials, comedies and didactic works share the format.
func ReadCEDText(path string) ([]string, error) {
	data, err := readCorpusFile(path)
	if err != nil {
		return nil, err
	}
	return cleanCEDText(data)
}

func cleanCEDText(data string) ([]string, error) {
	data = cedIntroText.ReplaceAllString(data, "")
	data = cedNotesPlain.ReplaceAllString(data, "")
	data = cedNotesNested.ReplaceAllString(data, "")
	data = strings.ReplaceAll(data, "#\n", "\n")

	var err error
	if cedAnotherFont.MatchString(data) {
		if data, err = cedPreAnotherFont.Replace(data, "", -1, -1); err != nil {
			return nil, fmt.Errorf("strip font marker: %w", err)
		}
		if data, err = cedPostAnotherFont.Replace(data, "", -1, -1); err != nil {
			return nil, fmt.Errorf("strip font marker: %w", err)
		}
	}
	if cedFont.MatchString(data) {
		if data, err = cedPreFont.Replace(data, "", -1, -1); err != nil {
			return nil, fmt.Errorf("strip font marker: %w", err)
		}
		if data, err = cedPostFont.Replace(data, "", -1, -1); err != nil {
			return nil, fmt.Errorf("strip font marker: %w", err)
		}
	}
	data = strings.ReplaceAll(data, "   ", "")

	var lines []string
	for _, line := range cedDialogue.Split(data, -1) {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" || line == "." {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// cedGenres are the file prefixes of the dialogue genres we train on:
// comedies, trials, didactic works and miscellaneous.
var cedGenres = []string{"D?C*", "D?T*", "D?H*", "D?M*"}

// ReadCED collects pairs from every relevant CED plain-text file in dir.
func ReadCED(dir string, logger *zap.Logger) ([]Pair, error) {
	logger = orNop(logger)
	var pairs []Pair
	for _, pattern := range cedGenres {
		files, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, file := range files {
			logger.Debug("reading CED file", zap.String("file", file))
			lines, err := ReadCEDText(file)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", file, err)
			}
			pairs = append(pairs, Pairs(lines)...)
		}
	}
	return pairs, nil
}

type cedXMLDoc struct {
	XMLName   xml.Name `xml:"dialogueDoc"`
	Dialogues []struct {
		Text string `xml:",chardata"`
	} `xml:"dialogueText>dialogue"`
}

// ReadCEDXML reads the XML edition of the CED. Character names nested inside
// a speech are dropped, so only the speech's own text is kept.
func ReadCEDXML(dir string) ([]Pair, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	var pairs []Pair
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		var doc cedXMLDoc
		decoder := xml.NewDecoder(bytes.NewReader(raw))
		decoder.CharsetReader = charsetReader
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		var dialogue []string
		for _, d := range doc.Dialogues {
			text := strings.TrimSpace(d.Text)
			if text != "" {
				dialogue = append(dialogue, text)
			}
		}
		pairs = append(pairs, Pairs(dialogue)...)
	}
	return pairs, nil
}

// CorpusStats summarises token counts over a set of pairs.
type CorpusStats struct {
	Pairs       int
	UniqueWords int
	TotalWords  int
}

// WordCount tokenizes both sides of every pair and counts words.
func WordCount(pairs []Pair) CorpusStats {
	seen := make(map[string]struct{})
	stats := CorpusStats{Pairs: len(pairs)}
	for _, p := range pairs {
		for _, utterance := range []string{p.Input, p.Output} {
			for _, tok := range WordTokenize(utterance) {
				seen[tok] = struct{}{}
				stats.TotalWords++
			}
		}
	}
	stats.UniqueWords = len(seen)
	return stats
}

// readCorpusFile returns the file as text. Some CED files carry stray
// single-byte encodings; those are decoded as Latin-1.
func readCorpusFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read corpus: %w", err)
	}
	return decodeCorpus(raw)
}

func decodeCorpus(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(decoded), nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}
