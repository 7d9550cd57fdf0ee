// Package nfo renders the release NFO and the BBCode upload description
// from analyzed media and TMDB metadata. The layouts follow the scene
// conventions French trackers parse, so field labels and section headers
// are part of the format, not decoration.
package nfo

import (
	"fmt"
	"strings"
	"text/template"

	"spool/internal/media"
	"spool/internal/services/tmdb"
)

// Meta is the rendering input for one release.
type Meta struct {
	ReleaseName    string
	MediaType      string
	Media          *media.Info
	Movie          *tmdb.Movie
	ScreenshotURLs []string
}

// Renderer produces the NFO body and the upload description for a release.
type Renderer interface {
	RenderNFO(meta Meta) (string, error)
	RenderDescription(meta Meta) (string, error)
}

const lineWidth = 79

func padLabel(label string) string {
	const column = 21
	if len(label) >= column {
		return label
	}
	return label + strings.Repeat(".", column-len(label))
}

func centerLine(text string) string {
	if len(text) >= lineWidth {
		return text
	}
	return strings.Repeat(" ", (lineWidth-len(text))/2) + text
}

var templateFuncs = template.FuncMap{
	"pad":    padLabel,
	"center": centerLine,
	"inc":    func(i int) int { return i + 1 },
}

// TemplateRenderer is the default text/template implementation.
type TemplateRenderer struct {
	nfo  *template.Template
	desc *template.Template
}

// NewTemplateRenderer returns a renderer using the built-in layouts.
func NewTemplateRenderer() *TemplateRenderer {
	renderer, err := NewTemplateRendererFrom(defaultNFOTemplate, defaultDescriptionTemplate)
	if err != nil {
		panic(fmt.Sprintf("nfo: built-in templates: %v", err))
	}
	return renderer
}

// NewTemplateRendererFrom parses custom layouts. Both templates receive the
// same view data as the built-in ones.
func NewTemplateRendererFrom(nfoLayout, descLayout string) (*TemplateRenderer, error) {
	nfoTmpl, err := template.New("nfo").Funcs(templateFuncs).Parse(nfoLayout)
	if err != nil {
		return nil, fmt.Errorf("nfo: parse nfo template: %w", err)
	}
	descTmpl, err := template.New("description").Funcs(templateFuncs).Parse(descLayout)
	if err != nil {
		return nil, fmt.Errorf("nfo: parse description template: %w", err)
	}
	return &TemplateRenderer{nfo: nfoTmpl, desc: descTmpl}, nil
}

// RenderNFO produces the technical NFO body.
func (r *TemplateRenderer) RenderNFO(meta Meta) (string, error) {
	var buf strings.Builder
	if err := r.nfo.Execute(&buf, buildNFOView(meta)); err != nil {
		return "", fmt.Errorf("nfo: render nfo: %w", err)
	}
	return buf.String(), nil
}

// RenderDescription produces the BBCode body for the upload description
// field.
func (r *TemplateRenderer) RenderDescription(meta Meta) (string, error) {
	var buf strings.Builder
	if err := r.desc.Execute(&buf, buildDescriptionView(meta)); err != nil {
		return "", fmt.Errorf("nfo: render description: %w", err)
	}
	return buf.String(), nil
}

const defaultNFOTemplate = `{{.Rule}}
{{center "INFORMATION GENERALE"}}
{{.Rule}}
{{pad "Type"}}: {{.MediaType}}

{{.Rule}}
{{center "RESUME TECHNIQUE"}}
{{.Rule}}
{{range .Summary}}{{pad .Label}}: {{.Value}}
{{end}}
{{.Rule}}
{{center "DETAILS TECHNIQUES"}}
{{.Rule}}

{{.Rule}}
{{center "GENERAL INFO"}}
{{.Rule}}
{{range .General}}{{pad .Label}}: {{.Value}}
{{end}}
{{range $i, $track := .Video}}{{$.Rule}}
{{center (printf "VIDEO INFO #%d" (inc $i))}}
{{$.Rule}}
{{range $track}}{{pad .Label}}: {{.Value}}
{{end}}
{{end}}{{range $i, $track := .Audio}}{{$.Rule}}
{{center (printf "AUDIO INFO #%d" (inc $i))}}
{{$.Rule}}
{{range $track}}{{pad .Label}}: {{.Value}}
{{end}}
{{end}}{{if .Subtitles}}{{.Rule}}
{{center "SUBTITLES"}}
{{.Rule}}
{{range .Subtitles}}{{.}}
{{end}}
{{end}}{{if .Screenshots}}{{.Rule}}
{{center "SCREENSHOTS"}}
{{.Rule}}
{{range .Screenshots}}{{.}}
{{end}}
{{end}}
{{.Rule}}
{{center "Partager & Preserver"}}
{{.Rule}}
`

const defaultDescriptionTemplate = `[center]
{{if .PosterURL}}[img]{{.PosterURL}}[/img]

{{end}}[size=6][color=#eab308][b]{{.Heading}}[/b][/color][/size]

[b]Note :[/b] {{.Rating}}
[b]Genre :[/b] {{.Genres}}

[quote]{{.Overview}}[/quote]

[color=#eab308][b]--- DÉTAILS ---[/b][/color]

[b]Qualité :[/b] {{.Quality}}
[b]Format :[/b] {{.Format}}
[b]Rendu :[/b] {{.HDR}}
{{if .Duration}}[b]Durée :[/b] {{.Duration}}
{{end}}[b]Codec Vidéo :[/b] {{.VideoCodec}}

[b]Codec Audio :[/b]
{{range .AudioLines}}{{.}}
{{end}}
[b]Langues :[/b] {{.Languages}}
[b]Sous-titres :[/b] {{.Subtitles}}
[b]Taille :[/b] {{.FileSize}}
{{if .Screenshots}}
[b]Captures :[/b]
{{range .Screenshots}}[img]{{.}}[/img]
{{end}}{{end}}[/center]
`
