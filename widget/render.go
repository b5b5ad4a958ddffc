package widget

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/letmevibethatforyou/imagesearch"
)

//go:embed templates/widget.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/widget.html"))

// LoadingText is shown while a search is in flight.
const LoadingText = "Searching..."

type pageData struct {
	Action string
	State  State
}

// Render writes the widget as an HTML page whose form submits back to the
// current path.
func (w *Widget) Render(out io.Writer) error {
	return RenderHTML(out, "", w.State())
}

// RenderHTML writes s as an HTML page. The search form submits to action;
// an empty action submits to the current URL.
func RenderHTML(out io.Writer, action string, s State) error {
	return pageTemplate.Execute(out, pageData{Action: action, State: s})
}

// RenderText writes the widget's cards as plain text.
func (w *Widget) RenderText(out io.Writer) error {
	return RenderText(out, w.State())
}

// RenderText writes s as plain text, one card per result.
func RenderText(out io.Writer, s State) error {
	if s.Loading {
		if _, err := fmt.Fprintln(out, LoadingText); err != nil {
			return err
		}
	}
	for i, img := range s.Results {
		if _, err := fmt.Fprintf(out, "[%d] %s\n    %s\n    %s\n", i+1, img.Title, Byline(img), img.Link); err != nil {
			return err
		}
	}
	return nil
}

// Byline formats the source and license line of a card.
func Byline(img imagesearch.Image) string {
	return img.Source + " — " + img.License
}
