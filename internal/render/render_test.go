package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lpdf "github.com/ledongthuc/pdf"
	"pgregory.net/rapid"

	"slidegen/internal/fontcheck"
	"slidegen/internal/imagefetch"
	"slidegen/internal/slides"
)

var fixedTime = time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)

func deck(titles ...string) *slides.Presentation {
	p := &slides.Presentation{Topic: "Deck Topic", GeneratedAt: fixedTime}
	for i, t := range titles {
		p.Slides = append(p.Slides, slides.SlideRecord{
			Title:          t,
			BulletPoints:   []string{"first point", "second point"},
			AdditionalInfo: "Some context for slide " + t,
			ImageURLs:      []string{},
			ReferenceURLs:  []string{"https://example.com/ref"},
		})
		if i == 0 {
			p.Slides[0].Title = p.Topic
		}
	}
	return p
}

// pageTexts extracts the text layer of every page.
func pageTexts(t *testing.T, data []byte) []string {
	t.Helper()
	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open rendered pdf: %v", err)
	}
	var out []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			out = append(out, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		out = append(out, text)
	}
	return out
}

func TestRender_SlideBreaksAndTitles(t *testing.T) {
	p := deck("Deck Topic", "Solar Power", "Wind Power", "Outlook")
	doc, err := New(nil, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if doc.SlideBreaks != len(p.Slides)-1 {
		t.Errorf("SlideBreaks = %d, want %d", doc.SlideBreaks, len(p.Slides)-1)
	}
	if doc.Pages < len(p.Slides) {
		t.Errorf("Pages = %d, want at least %d", doc.Pages, len(p.Slides))
	}
	if !bytes.HasPrefix(doc.Data, []byte("%PDF-")) {
		t.Fatal("output is not a PDF")
	}

	pages := pageTexts(t, doc.Data)
	if len(pages) != doc.Pages {
		t.Errorf("reader sees %d pages, renderer reported %d", len(pages), doc.Pages)
	}
	// Titles must show up in slide order.
	next := 0
	for _, s := range p.Slides {
		found := false
		for ; next < len(pages); next++ {
			if strings.Contains(pages[next], s.Title) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("title %q not found in order", s.Title)
		}
	}
	if !strings.Contains(pages[0], "Generated: March 04, 2025") {
		t.Errorf("title page missing generated line: %q", pages[0])
	}
	if !strings.Contains(strings.Join(pages, "\n"), "References & Further Reading:") {
		t.Error("references heading missing")
	}
}

func TestRender_SingleSlide(t *testing.T) {
	doc, err := New(nil, nil).Render(context.Background(), deck("Deck Topic"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.SlideBreaks != 0 || doc.Pages != 1 {
		t.Errorf("breaks=%d pages=%d", doc.SlideBreaks, doc.Pages)
	}
}

func TestRender_TitleSlideShowsDistinctTitle(t *testing.T) {
	p := deck("x", "Body")
	p.Slides[0].Title = "A Different Opening"
	doc, err := New(nil, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	first := pageTexts(t, doc.Data)[0]
	if !strings.Contains(first, "Deck Topic") || !strings.Contains(first, "A Different Opening") {
		t.Errorf("title page should carry topic and slide title: %q", first)
	}
}

func TestRender_EmptyPresentation(t *testing.T) {
	_, err := New(nil, nil).Render(context.Background(), &slides.Presentation{Topic: "x"})
	if !errors.Is(err, ErrPDFBuild) {
		t.Errorf("expected ErrPDFBuild, got %v", err)
	}
}

func TestRender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil, nil).Render(ctx, deck("a", "b")); !errors.Is(err, ErrPDFBuild) {
		t.Errorf("expected ErrPDFBuild, got %v", err)
	}
}

func TestRender_LongContentOverflows(t *testing.T) {
	p := deck("Deck Topic", "Dense")
	long := strings.Repeat("A sentence that keeps going to fill the page. ", 400)
	p.Slides[1].AdditionalInfo = long
	doc, err := New(nil, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Pages <= 2 {
		t.Errorf("expected overflow pages, got %d", doc.Pages)
	}
	if doc.SlideBreaks != 1 {
		t.Errorf("overflow must not count as slide break: %d", doc.SlideBreaks)
	}
}

func TestRender_Idempotent(t *testing.T) {
	p := deck("Deck Topic", "Café & Résumé", "Outlook")
	r := New(nil, nil)
	a, err := r.Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("rendering the same presentation twice produced different bytes")
	}
}

func TestRender_Observe(t *testing.T) {
	r := New(nil, nil)
	var calls int
	var last error
	r.Observe = func(_ time.Duration, err error) {
		calls++
		last = err
	}
	r.Render(context.Background(), deck("a"))
	r.Render(context.Background(), &slides.Presentation{})
	if calls != 2 || !errors.Is(last, ErrPDFBuild) {
		t.Errorf("calls=%d last=%v", calls, last)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for x := 0; x < 30; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), 90, uint8(y * 12), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRender_ImagesEmbeddedAndCleanedUp(t *testing.T) {
	body := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	fetcher, err := imagefetch.New(imagefetch.Options{TempDir: dir})
	if err != nil {
		t.Fatal(err)
	}

	p := deck("Deck Topic", "Pictures")
	p.Slides[0].ImageURLs = []string{srv.URL + "/a.png"}
	p.Slides[1].ImageURLs = []string{srv.URL + "/b.png", srv.URL + "/c.png", srv.URL + "/d.png"}

	doc, err := New(fetcher, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	// One on the title slide, two on the content slide; the third is ignored.
	if doc.ImagesEmbedded != 3 || doc.ImagesSkipped != 0 {
		t.Errorf("embedded=%d skipped=%d", doc.ImagesEmbedded, doc.ImagesSkipped)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp images left behind: %v", entries)
	}
}

func TestRender_UnreachableImageOmitted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL + "/gone.png"
	srv.Close()

	dir := t.TempDir()
	fetcher, _ := imagefetch.New(imagefetch.Options{TempDir: dir, Timeout: time.Second})

	p := deck("Deck Topic", "Broken")
	p.Slides[1].ImageURLs = []string{dead}

	withImage, err := New(fetcher, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatalf("unreachable image must not fail the render: %v", err)
	}
	if withImage.ImagesSkipped != 1 || withImage.ImagesEmbedded != 0 {
		t.Errorf("embedded=%d skipped=%d", withImage.ImagesEmbedded, withImage.ImagesSkipped)
	}

	p.Slides[1].ImageURLs = []string{}
	without, err := New(nil, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(withImage.Data, without.Data) {
		t.Error("skipped image should leave the document identical to one without it")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestRender_UndecodableImageOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	fetcher, _ := imagefetch.New(imagefetch.Options{TempDir: t.TempDir()})
	p := deck("Deck Topic", "Broken")
	p.Slides[1].ImageURLs = []string{srv.URL}
	doc, err := New(fetcher, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ImagesSkipped != 1 {
		t.Errorf("skipped = %d", doc.ImagesSkipped)
	}
}

func TestRender_BrokenFontFallsBackToHelvetica(t *testing.T) {
	p := deck("Deck Topic", "Café & Résumé")
	plain, err := New(nil, nil).Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(t.TempDir(), "broken.ttf")
	if err := os.WriteFile(bad, []byte("not a font"), 0644); err != nil {
		t.Fatal(err)
	}
	r := New(nil, nil)
	r.Font = &fontcheck.Font{Family: "broken", Regular: bad}
	doc, err := r.Render(context.Background(), p)
	if err != nil {
		t.Fatalf("broken font failed the render: %v", err)
	}
	if !bytes.Equal(doc.Data, plain.Data) {
		t.Error("broken font changed the output")
	}
}

func TestRender_EmbedsUnicodeFont(t *testing.T) {
	font, err := fontcheck.Finder{}.Find(context.Background())
	if err != nil {
		t.Skip("no unicode font installed")
	}
	r := New(nil, nil)
	r.Font = font
	p := deck("Deck Topic", "Ελληνικά и кириллица")
	doc, err := r.Render(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if doc.SlideBreaks != 1 || !bytes.Contains(doc.Data, []byte("/FontFile2")) {
		t.Errorf("breaks = %d, embedded font program present = %v", doc.SlideBreaks, bytes.Contains(doc.Data, []byte("/FontFile2")))
	}
}

func TestRender_BreaksProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "slides")
		p := &slides.Presentation{Topic: "Prop", GeneratedAt: fixedTime}
		for i := 0; i < n; i++ {
			p.Slides = append(p.Slides, slides.SlideRecord{
				Title:        rapid.StringMatching(`[A-Za-z][A-Za-z ]{0,20}`).Draw(t, "title"),
				BulletPoints: rapid.SliceOfN(rapid.StringMatching(`[a-z ]{1,40}`), 0, 5).Draw(t, "bullets"),
			})
		}
		doc, err := New(nil, nil).Render(context.Background(), p)
		if err != nil {
			t.Fatal(err)
		}
		if doc.SlideBreaks != n-1 {
			t.Fatalf("breaks = %d, want %d", doc.SlideBreaks, n-1)
		}
		if doc.Pages < n {
			t.Fatalf("pages = %d, want >= %d", doc.Pages, n)
		}
	})
}

func TestFilename(t *testing.T) {
	cases := map[string]string{
		"Renewable Energy":       "Renewable_Energy_enhanced.pdf",
		"  AI / ML: what's new?": "AI__ML_whats_new_enhanced.pdf",
		"":                       "presentation_enhanced.pdf",
		"../etc/passwd":          "etcpasswd_enhanced.pdf",
		"Café 2024":              "Café_2024_enhanced.pdf",
	}
	for in, want := range cases {
		if got := Filename(in); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}
