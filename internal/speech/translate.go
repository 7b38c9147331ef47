package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTranslateURL is the public Translate TTS endpoint.
const DefaultTranslateURL = "https://translate.google.com/translate_tts"

// The endpoint rejects requests longer than this many characters.
const maxChunkRunes = 100

const maxChunkBytes = 2 << 20

// TranslateClient fetches MP3 audio from the Translate TTS endpoint.
type TranslateClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTranslate creates a TranslateClient. An empty baseURL uses DefaultTranslateURL.
func NewTranslate(baseURL string) *TranslateClient {
	if baseURL == "" {
		baseURL = DefaultTranslateURL
	}
	return &TranslateClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Synthesize requests each chunk of text in order and concatenates the MP3
// streams.
func (c *TranslateClient) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, synthErr("empty text")
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		if err := c.fetch(ctx, &out, chunk, lang, i, len(chunks)); err != nil {
			return nil, synthErr("chunk %d/%d: %v", i+1, len(chunks), err)
		}
	}
	return out.Bytes(), nil
}

func (c *TranslateClient) fetch(ctx context.Context, w io.Writer, chunk, lang string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", lang)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, maxChunkBytes))
	if err != nil {
		return fmt.Errorf("reading audio: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("empty audio response")
	}
	return nil
}

// splitText breaks text on whitespace into chunks of at most limit runes.
// Words longer than limit are cut.
func splitText(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > limit {
			flush()
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		wl := len(runes)
		if wl == 0 {
			continue
		}
		if curLen > 0 && curLen+1+wl > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(string(runes))
		curLen += wl
	}
	flush()
	return chunks
}
