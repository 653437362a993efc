package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/vango-dev/pagewire/pkg/ui"
)

// RenderContext is everything a Renderer needs to produce the first HTML
// response for a page.
type RenderContext struct {
	PageID int64

	// Tree is the serialized component tree, ready to embed in a script.
	Tree template.JS

	// UseChannel tells the client to open a websocket channel rather than
	// polling.
	UseChannel bool

	Options ui.Options

	// ClientOptions is the JSON the client script reads its settings from.
	ClientOptions template.JS

	// HTML is the page's raw HTML, if any.
	HTML template.HTML

	EventPath  string
	SocketPath string
}

// Renderer writes the initial HTML document for a page.
type Renderer interface {
	Render(w io.Writer, rc *RenderContext) error
}

// TemplateRenderer renders with an html/template. The template is executed
// with a *RenderContext.
type TemplateRenderer struct {
	tmpl *template.Template
}

var _ Renderer = (*TemplateRenderer)(nil)

// NewTemplateRenderer wraps tmpl. A nil tmpl selects the built-in shell.
func NewTemplateRenderer(tmpl *template.Template) *TemplateRenderer {
	if tmpl == nil {
		tmpl = defaultTemplate
	}
	return &TemplateRenderer{tmpl: tmpl}
}

func (t *TemplateRenderer) Render(w io.Writer, rc *RenderContext) error {
	if err := t.tmpl.Execute(w, rc); err != nil {
		return fmt.Errorf("server: render page %d: %w", rc.PageID, err)
	}
	return nil
}

// clientOptions is read by the client script.
type clientOptions struct {
	PageID         int64    `json:"page_id"`
	UseChannel     bool     `json:"use_channel"`
	EventPath      string   `json:"event_path"`
	SocketPath     string   `json:"socket_path"`
	ReloadInterval float64  `json:"reload_interval,omitempty"`
	Events         []string `json:"events,omitempty"`
	Redirect       string   `json:"redirect,omitempty"`
	DisplayURL     string   `json:"display_url,omitempty"`
	Open           string   `json:"open,omitempty"`
	Debug          bool     `json:"debug,omitempty"`
}

func newRenderContext(pageID int64, nodes []ui.Node, opts ui.Options, html string, useChannel bool, cfg *Config) (*RenderContext, error) {
	if nodes == nil {
		nodes = []ui.Node{}
	}
	tree, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("server: encode tree: %w", err)
	}
	client, err := json.Marshal(clientOptions{
		PageID:         pageID,
		UseChannel:     useChannel,
		EventPath:      cfg.EventPath,
		SocketPath:     cfg.SocketPath,
		ReloadInterval: opts.ReloadInterval,
		Events:         opts.Events,
		Redirect:       opts.Redirect,
		DisplayURL:     opts.DisplayURL,
		Open:           opts.Open,
		Debug:          opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("server: encode client options: %w", err)
	}
	if opts.Favicon == "" {
		opts.Favicon = cfg.Favicon
	}
	return &RenderContext{
		PageID:        pageID,
		Tree:          template.JS(tree),
		UseChannel:    useChannel,
		Options:       opts,
		ClientOptions: template.JS(client),
		HTML:          template.HTML(html),
		EventPath:     cfg.EventPath,
		SocketPath:    cfg.SocketPath,
	}, nil
}

// Page authors supply HeadHTML, BodyHTML and CSS; they are trusted.
var templateFuncs = template.FuncMap{
	"raw": func(s string) template.HTML { return template.HTML(s) },
	"css": func(s string) template.CSS { return template.CSS(s) },
}

var defaultTemplate = template.Must(template.New("page").Funcs(templateFuncs).Parse(pageShell))

const pageShell = `<!DOCTYPE html>
<html lang="en"{{if .Options.Dark}} class="dark"{{end}}>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{with .Options.Title}}{{.}}{{else}}pagewire{{end}}</title>
{{with .Options.Favicon}}<link rel="icon" href="{{.}}">{{end}}
{{with .Options.CSS}}<style>{{css .}}</style>{{end}}
{{raw .Options.HeadHTML}}
</head>
<body{{with .Options.BodyStyle}} style="{{css .}}"{{end}}{{with .Options.BodyClasses}} class="{{.}}"{{end}}>
<div id="pagewire-root">{{.HTML}}</div>
{{raw .Options.BodyHTML}}
<script>
(function () {
  var opts = {{.ClientOptions}};
  var tree = {{.Tree}};
  var root = document.getElementById("pagewire-root");
  var socket = null;

  function build(node) {
    var el = document.createElement(node.tag);
    el.id = "c" + node.id;
    var attrs = node.attrs || {};
    Object.keys(attrs).forEach(function (k) {
      var v = attrs[k];
      if (k === "value" && "value" in el) { el.value = v; return; }
      if (v === true) { el.setAttribute(k, ""); return; }
      if (v === false || v === null) { return; }
      if (typeof v !== "object") { el.setAttribute(k, v); }
    });
    if (node.text) { el.appendChild(document.createTextNode(node.text)); }
    (node.events || []).forEach(function (ev) {
      el.addEventListener(ev, function (e) {
        var data = {event_type: ev, page_id: opts.page_id, id: node.id};
        if ("value" in e.target) { data.value = e.target.value; }
        if ("checked" in e.target) { data.checked = e.target.checked; }
        if (e.key !== undefined) { data.key = e.key; }
        send({type: "event", event_data: data});
      });
    });
    (node.children || []).forEach(function (c) { el.appendChild(build(c)); });
    return el;
  }

  function render(nodes) {
    if (!nodes.length && root.childNodes.length) { return; }
    root.replaceChildren.apply(root, nodes.map(build));
  }

  function apply(po) {
    if (!po) { return; }
    if (po.title) { document.title = po.title; }
    if (po.redirect) { location.href = po.redirect; }
    if (po.display_url) { history.pushState(null, "", po.display_url); }
    if (po.open) { window.open(po.open, "_blank"); }
  }

  function receive(msg) {
    if (!msg) { return; }
    if (msg.type === "page_update") {
      render(msg.data);
      apply(msg.page_options);
    } else if (msg.type === "websocket_update") {
      opts.websocket_id = msg.data;
      socket.send(JSON.stringify({type: "connect", event_data: {page_id: opts.page_id}}));
    }
  }

  function send(msg) {
    if (socket && socket.readyState === WebSocket.OPEN) {
      msg.event_data.websocket_id = opts.websocket_id;
      socket.send(JSON.stringify(msg));
      return;
    }
    fetch(opts.event_path, {
      method: "POST",
      credentials: "same-origin",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(msg)
    }).then(function (r) { return r.json(); }).then(receive);
  }

  render(tree);
  apply({redirect: opts.redirect, display_url: opts.display_url, open: opts.open});

  if (opts.use_channel) {
    var scheme = location.protocol === "https:" ? "wss://" : "ws://";
    socket = new WebSocket(scheme + location.host + opts.socket_path);
    socket.onmessage = function (e) { receive(JSON.parse(e.data)); };
    socket.onclose = function () { if (opts.debug) { console.log("pagewire: channel closed"); } };
  } else {
    window.addEventListener("beforeunload", function () {
      var body = JSON.stringify({type: "event", event_data: {event_type: "beforeunload", page_id: opts.page_id}});
      navigator.sendBeacon(opts.event_path, new Blob([body], {type: "application/json"}));
    });
  }

  (opts.events || []).forEach(function (ev) {
    document.addEventListener(ev, function (e) {
      var data = {event_type: ev, page_id: opts.page_id};
      if (e.key !== undefined) { data.key = e.key; }
      send({type: "page_event", event_data: data});
    });
  });

  if (opts.reload_interval > 0) {
    setInterval(function () {
      send({type: "event", event_data: {event_type: "page_update", page_id: opts.page_id}});
    }, opts.reload_interval * 1000);
  }
})();
</script>
</body>
</html>
`
