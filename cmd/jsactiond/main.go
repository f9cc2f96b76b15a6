// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// jsactiond drives a Chrome instance over the DevTools Protocol,
// mirrors its DOM, and runs every forwarded event through a jsaction
// Contract, streaming the resulting Event Records to whichever
// dispatcher connects to /dispatch.
// Usage:
//	jsactiond --port=8090
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/anwerso/jsaction/browserbridge"
	"github.com/anwerso/jsaction/chrome"
	"github.com/anwerso/jsaction/dispatch"
	"github.com/anwerso/jsaction/domtree"
	"github.com/anwerso/jsaction/jsaction"
	"github.com/sirupsen/logrus"
)

var (
	port            = flag.Int("port", 8090, "The port jsactiond listens on.")
	chromeDebugPort = flag.Int("chrome_debug_port", 0, "For every /attach request, start Chrome with this DevTools port and connect to it, instead of drawing an instance from the pool.")
	useFullChrome   = flag.Bool("use_full_chrome", false, "Run Chrome with the graphical interface instead of headless.")
	stopPropagation = flag.Bool("stop_propagation", true, "Stop propagation of a resolved event at its matched container.")
	fastClick       = flag.Bool("fast_click", true, "Synthesize a click from a touchstart/touchend pair (spec §4.5).")
	a11yClick       = flag.Bool("a11y_click", true, "Treat Enter/Space keydown on a focusable element as a click.")
	jsnamespace     = flag.Bool("jsnamespace", true, "Resolve jsnamespace-qualified actions (spec §4.2).")
	eventPath       = flag.Bool("event_path", false, "Walk the event's composed path instead of DOM parent pointers (spec §4.3).")
	logLevel        = flag.String("log_level", "info", "logrus level: debug, info, warn, error.")
)

func main() {
	flag.Parse()

	logger := logrus.StandardLogger()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid -log_level %q: %v", *logLevel, err)
	}
	logger.SetLevel(level)

	opts := jsaction.DefaultOptions()
	opts.StopPropagation = *stopPropagation
	opts.FastClickSupport = *fastClick
	opts.A11yClickSupport = *a11yClick
	opts.JSNamespaceSupport = *jsnamespace
	opts.UseEventPath = *eventPath
	opts.Logger = logger

	contract := jsaction.New(opts)
	contract.AddEvent("click")
	contract.AddEvent("mouseover")
	contract.AddEvent("mouseout")
	contract.AddEvent("focusin")
	contract.AddEvent("focusout")

	dispatchServer := dispatch.New(logger)
	contract.DispatchTo(dispatchServer.Callback())

	var instanceManager *chrome.InstanceManager
	if *chromeDebugPort == 0 {
		instanceManager = chrome.NewInstanceManager(*useFullChrome)
	}

	a := &attacher{
		logger:          logger,
		contract:        contract,
		instanceManager: instanceManager,
		chromeDebugPort: *chromeDebugPort,
		useFullChrome:   *useFullChrome,
	}

	http.Handle("/dispatch", dispatchServer)
	http.HandleFunc("/attach", a.ServeHTTP)

	server := &http.Server{Addr: fmt.Sprintf(":%d", *port)}
	logger.WithField("port", *port).Info("jsactiond: listening")
	log.Fatal(server.ListenAndServe())
}

// attacher handles /attach?url=..., the one HTTP verb this binary
// exposes beyond the dispatcher websocket: point a Chrome instance at
// url, mirror its DOM, register the document root as a jsaction
// container, and pump CDP events into the Contract for the life of
// the connection.
type attacher struct {
	logger          logrus.FieldLogger
	contract        *jsaction.Contract
	instanceManager *chrome.InstanceManager
	chromeDebugPort int
	useFullChrome   bool
}

func (a *attacher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, `missing required query parameter "url"`, http.StatusBadRequest)
		return
	}

	instance, cleanup, err := a.getInstance()
	if err != nil {
		a.logger.WithError(err).Warn("jsactiond: failed to obtain a Chrome instance")
		http.Error(w, "failed to obtain a Chrome instance", http.StatusBadGateway)
		return
	}

	tree := domtree.New(0)
	bridge := browserbridge.New(instance, tree, a.contract, a.logger)
	if err := bridge.Attach(); err != nil {
		a.logger.WithError(err).Warn("jsactiond: failed to attach to Chrome instance")
		http.Error(w, "failed to attach", http.StatusBadGateway)
		cleanup()
		return
	}

	if ua := r.URL.Query().Get("ua"); ua != "" {
		bridge.SetUserAgent(ua)
	}

	handle := a.contract.AddContainer(tree.Root())
	bridge.ApplyIOSBubblingWorkaround()

	if err := instance.NavigateToPage(url); err != nil {
		a.logger.WithError(err).Warn("jsactiond: navigation failed")
	}

	go func() {
		defer cleanup()
		defer a.contract.RemoveContainer(handle)
		if err := bridge.Pump(); err != nil {
			a.logger.WithError(err).Info("jsactiond: bridge pump ended")
		}
	}()

	fmt.Fprintf(w, "attached to %s\n", url)
}

// getInstance returns a connected Chrome instance and a cleanup
// function for releasing it. With -chrome_debug_port set, every
// request starts a new Chrome process through chrome.New with that
// DevTools port and connects to localhost on it; cleanup is a no-op,
// so that process is not terminated. Otherwise it draws one from the
// InstanceManager's pool, the teacher's normal mode.
func (a *attacher) getInstance() (*chrome.Instance, func(), error) {
	if a.chromeDebugPort != 0 {
		instance, err := chrome.New(a.chromeDebugPort, a.useFullChrome)
		if err != nil {
			return nil, nil, err
		}
		if err := instance.Connect(); err != nil {
			return nil, nil, err
		}
		return instance, func() {}, nil
	}

	id := a.instanceManager.GetNewInstance("")
	instance, err := a.instanceManager.GetInstance(id)
	if err != nil {
		return nil, nil, err
	}
	if err := instance.WaitUntilChromeReady(); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		instance.DisconnectAndTerminate()
		a.instanceManager.RemoveInstance(id)
	}
	return instance, cleanup, nil
}
