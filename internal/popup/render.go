package popup

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"bedready-go/internal/types"
)

const (
	TitleNotReady = "Bed Not Ready"
	TitleError    = "Bed Ready Error"
	TitleTest     = "Bed Ready Test"
)

var comparisonTmpl = template.Must(template.New("comparison").Parse(
	`<div class="row-fluid"><p>Match percentage calculated as <span class="label label-info">{{.Percentage}}%</span>.</p>` +
		`{{if .Paused}}<p>Print job has been paused, check the bed and then resume.</p>{{end}}` +
		`Reference:<p><img src="{{.ReferenceURL}}"></p>Test:<p><img src="{{.TestURL}}"></p></div>`))

var errorTmpl = template.Must(template.New("error").Parse(
	`There was an error: {{if .Pre}}<pre>{{.Message}}</pre>{{else}}{{.Message}}{{end}}`))

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "p", "span", "pre", "br")
	p.AllowAttrs("class").OnElements("div", "span")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	p.AllowAttrs("src", "alt").OnElements("img")
	return p
}

// Sanitize strips anything from body that a popup should not render.
func Sanitize(body template.HTML) template.HTML {
	return template.HTML(policy.Sanitize(string(body)))
}

// FormatPercentage renders a 0..1 similarity as a percentage with two decimals.
func FormatPercentage(similarity float64) string {
	return strconv.FormatFloat(similarity*100, 'f', 2, 64)
}

// Comparison describes the thumbnails popup.
type Comparison struct {
	Similarity   float64
	ReferenceURL string
	TestURL      string
	Paused       bool
}

func ComparisonBody(c Comparison) template.HTML {
	var buf bytes.Buffer
	_ = comparisonTmpl.Execute(&buf, struct {
		Percentage   string
		Paused       bool
		ReferenceURL string
		TestURL      string
	}{FormatPercentage(c.Similarity), c.Paused, c.ReferenceURL, c.TestURL})
	return template.HTML(buf.String())
}

// ErrorBody renders "There was an error: msg", optionally preformatted.
func ErrorBody(msg string, pre bool) template.HTML {
	var buf bytes.Buffer
	_ = errorTmpl.Execute(&buf, struct {
		Message string
		Pre     bool
	}{msg, pre})
	return template.HTML(buf.String())
}

var markdown = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Markdown renders a popup for terminal output.
func Markdown(v *types.PopupView) (string, error) {
	if v == nil {
		return "", nil
	}
	body, err := markdown.ConvertString(v.Body)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(v.Title)
	sb.WriteString(" (")
	sb.WriteString(string(v.Severity))
	sb.WriteString(")\n\n")
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")
	return sb.String(), nil
}
