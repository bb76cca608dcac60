package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/hotswap/internal/bundler"
)

const statusHead = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>hotswap status</title>` +
	`<style>body{font-family:system-ui,sans-serif;margin:20px;background:#f5f5f5}` +
	`table{border-collapse:collapse;background:#fff;margin-bottom:24px}` +
	`th,td{border:1px solid #ddd;padding:6px 10px;text-align:left}` +
	`.failed{color:#b00020}</style></head><body>`

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	templ.Handler(statusPage(s.Status())).ServeHTTP(w, r)
}

// statusPage renders the dev server overview.
func statusPage(status StatusResponse) templ.Component {
	return templ.Join(
		templ.Raw(statusHead),
		element("h1", nil, text("hotswap "+status.Version)),
		element("p", nil, text("Up since "+humanize.Time(status.StartedAt))),
		instancesSection(status.Instances),
		clientsSection(status.Clients),
		cacheSection(status.Cache),
		templ.Raw(`</body></html>`),
	)
}

func instancesSection(instances []bundler.Info) templ.Component {
	heading := element("h2", nil, text("Bundles"))
	if len(instances) == 0 {
		return templ.Join(heading, element("p", nil, text("No bundle requested yet.")))
	}

	rows := []templ.Component{headerRow("Bundle", "Platform", "Mode", "State", "Clients", "Output", "Fingerprint")}
	for _, info := range instances {
		mode := "production"
		if info.Dev {
			mode = "development"
		}
		state := text(info.State)
		if info.LastError != "" {
			state = element("span", []attribute{{"class", "failed"}, {"title", info.LastError}}, text("failed"))
		}
		rows = append(rows, element("tr", nil,
			cell(text(info.BundleName)),
			cell(text(platformLabel(info.Platform))),
			cell(text(mode)),
			cell(state),
			cell(text(strconv.Itoa(len(info.Clients)))),
			cell(text(humanize.Bytes(uint64(info.OutputBytes)))),
			cell(element("code", nil, text(shortFingerprint(info.Fingerprint)))),
		))
	}
	return templ.Join(heading, element("table", nil, rows...))
}

func clientsSection(clients []ClientInfo) templ.Component {
	heading := element("h2", nil, text("Clients"))
	if len(clients) == 0 {
		return templ.Join(heading, element("p", nil, text("No client connected.")))
	}

	rows := []templ.Component{headerRow("ID", "Bundle", "Platform", "Modules", "Connected")}
	for _, c := range clients {
		rows = append(rows, element("tr", nil,
			cell(text(strconv.FormatUint(c.ID, 10))),
			cell(text(c.Bundle)),
			cell(text(platformLabel(c.Platform))),
			cell(text(strconv.Itoa(c.Modules))),
			cell(text(humanize.RelTime(c.ConnectedAt, time.Now(), "ago", "from now"))),
		))
	}
	return templ.Join(heading, element("table", nil, rows...))
}

func cacheSection(cache CacheStatus) templ.Component {
	heading := element("h2", nil, text("Transform cache"))
	if cache.Error != "" {
		return templ.Join(heading, element("p", []attribute{{"class", "failed"}}, text(cache.Error)))
	}
	return templ.Join(heading, element("p", nil,
		text(humanize.Comma(int64(cache.Entries))+" entries, "+humanize.Bytes(uint64(cache.Bytes))+" in "),
		element("code", nil, text(cache.Dir)),
	))
}

type attribute struct {
	name, value string
}

// element renders <tag attrs...>children</tag>. Attribute values are escaped.
func element(tag string, attrs []attribute, children ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<"+tag); err != nil {
			return err
		}
		for _, a := range attrs {
			if _, err := fmt.Fprintf(w, ` %s="%s"`, a.name, templ.EscapeString(a.value)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, ">"); err != nil {
			return err
		}
		if err := templ.Join(children...).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</"+tag+">")
		return err
	})
}

// text renders s as escaped character data.
func text(s string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, templ.EscapeString(s))
		return err
	})
}

func cell(content templ.Component) templ.Component {
	return element("td", nil, content)
}

func headerRow(names ...string) templ.Component {
	cells := make([]templ.Component, len(names))
	for i, name := range names {
		cells[i] = element("th", nil, text(name))
	}
	return element("tr", nil, cells...)
}

func platformLabel(platform string) string {
	if platform == "" {
		return "-"
	}
	return cases.Title(language.English).String(platform)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
