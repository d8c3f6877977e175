package httpapp

import (
	"embed"
	"html/template"
	"time"
	"unicode/utf8"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/style.css
var styleCSS []byte

type Templates struct {
	Home      *template.Template
	Article   *template.Template
	Dashboard *template.Template
	Form      *template.Template
}

func loadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
		"isoTime":    func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
		"truncate": func(s string, n int) string {
			if utf8.RuneCountInString(s) <= n {
				return s
			}
			runes := []rune(s)
			return string(runes[:n]) + "…"
		},
	}

	layoutContent, err := templateFS.ReadFile("templates/layout.html")
	if err != nil {
		return nil, err
	}

	// Every page is parsed on top of its own copy of the layout, which
	// renders the page's "content" block.
	makePage := func(pageName string) (*template.Template, error) {
		pageContent, err := templateFS.ReadFile("templates/" + pageName + ".html")
		if err != nil {
			return nil, err
		}
		t := template.New("layout").Funcs(funcs)
		t, err = t.Parse(string(layoutContent))
		if err != nil {
			return nil, err
		}
		t, err = t.Parse(string(pageContent))
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	home, err := makePage("home")
	if err != nil {
		return nil, err
	}
	article, err := makePage("article")
	if err != nil {
		return nil, err
	}
	dashboard, err := makePage("dashboard")
	if err != nil {
		return nil, err
	}
	form, err := makePage("form")
	if err != nil {
		return nil, err
	}

	return &Templates{
		Home:      home,
		Article:   article,
		Dashboard: dashboard,
		Form:      form,
	}, nil
}
