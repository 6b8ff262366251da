package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/internal/provider"
	"github.com/loomchat/loom/internal/rag"
	"github.com/loomchat/loom/internal/session"
)

var (
	styleInfo      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleBranch    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleReasoning = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleCritical  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// chatApp holds the live pieces of an interactive session.
type chatApp struct {
	cfg      *config.Config
	provider provider.Provider
	sess     *session.Session
	tracker  *session.BudgetTracker
	coord    *session.Coordinator
	docs     *rag.Store
	events   *eventlog.Logger
}

// runChat starts the interactive chat (REPL) mode.
func runChat() error {
	cfg := initConfig()

	p, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel()
	}

	sess := session.New(session.WithMaxBranches(cfg.Session.MaxBranches))

	maxCtx := cfg.Session.MaxContextTokens
	if maxCtx == 0 {
		maxCtx = p.ContextWindow()
	}
	tracker := session.NewBudgetTracker(session.HeuristicCounter{}, maxCtx)

	// The coordinator reuses the chat provider for summary generation.
	gen := session.Generator(func(ctx context.Context, prompt string) (string, error) {
		comp, err := provider.Complete(ctx, p, &provider.ChatRequest{
			Model:     cfg.Model,
			Messages:  []provider.Message{{Role: provider.RoleUser, Content: prompt}},
			MaxTokens: 1024,
		})
		if err != nil {
			return "", err
		}
		return comp.Text, nil
	})

	app := &chatApp{
		cfg:      cfg,
		provider: p,
		sess:     sess,
		tracker:  tracker,
		coord:    session.NewCoordinator(gen, tracker),
	}

	if store, err := openDocStore(cfg); err != nil {
		fmt.Fprintln(os.Stderr, styleWarn.Render("document store unavailable: "+err.Error()))
	} else {
		app.docs = store
		defer store.Close()
	}

	if evl, err := eventlog.New(sess.ID(), cfg.EventLog); err != nil {
		fmt.Fprintln(os.Stderr, styleWarn.Render("event log unavailable: "+err.Error()))
	} else {
		app.events = evl
		defer evl.Close()
	}
	app.logEvent(eventlog.EventSessionStart, map[string]any{
		"provider": p.Name(),
		"model":    cfg.Model,
	})
	defer app.logEvent(eventlog.EventSessionEnd, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("loom %s · %s · %s\n", appVersion, p.Name(), cfg.Model)
	fmt.Println(styleInfo.Render("Type a message, /help for commands, /quit to exit."))

	return app.loop(ctx)
}

func openDocStore(cfg *config.Config) (*rag.Store, error) {
	path := cfg.RAG.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(home, ".local", "share", "loom")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "docs.db")
	}
	return rag.Open(path)
}

func (a *chatApp) logEvent(t eventlog.EventType, data any) {
	if a.events != nil {
		a.events.Log(t, data)
	}
}

func (a *chatApp) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Printf("\n%s> ", styleBranch.Render(a.sess.Branches().Active().Name))
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := a.dispatch(ctx, line); quit {
				return nil
			}
			continue
		}

		a.sendMessage(ctx, line)
	}
}

// dispatch handles a slash command. Returns true to exit the REPL.
func (a *chatApp) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.printHelp()
	case "/branch":
		a.cmdBranch(args)
	case "/branches":
		a.cmdBranches()
	case "/switch":
		a.cmdSwitch(args)
	case "/merge":
		a.cmdMerge(args)
	case "/delete-branch":
		a.cmdDeleteBranch(args)
	case "/tree":
		a.cmdTree()
	case "/history":
		a.printMessages(a.sess.History())
	case "/pin", "/unpin":
		a.cmdPin(cmd == "/pin", args)
	case "/feedback":
		a.cmdFeedback(args)
	case "/delete":
		a.cmdDelete(args)
	case "/search":
		a.cmdSearch(strings.TrimSpace(strings.TrimPrefix(line, "/search")))
	case "/tokens":
		a.cmdTokens()
	case "/summarize":
		a.cmdSummarize(ctx)
	case "/docs":
		a.cmdDocs(args, line)
	case "/events":
		a.cmdEvents()
	default:
		fmt.Println(styleErr.Render("unknown command " + cmd + "; try /help"))
	}
	return false
}

func (a *chatApp) printHelp() {
	fmt.Print(styleInfo.Render(`Commands:
  /branch <msg#> [name]      fork a new branch from message #
  /branches                  list branches
  /switch <branch>           make a branch active
  /merge <src> <dst>         move a branch's messages onto another
  /delete-branch <branch>    delete a branch (children re-parented)
  /tree                      show the branch tree
  /history                   show active branch history across forks
  /pin <msg#> | /unpin <msg#>
  /feedback <msg#> <positive|negative|none>
  /delete <msg#>             soft-delete a message
  /search <text>             search visible messages
  /tokens                    token budget breakdown
  /summarize                 condense old history into a summary
  /docs add <name> <text>    store a reference document
  /docs list | rm <id> | find <text>
  /events                    recent session events
  /quit
Message numbers index the active branch; negatives count from the end.
`))
}

// ── Conversation turn ──

func (a *chatApp) sendMessage(ctx context.Context, text string) {
	snippets := a.retrieve(text)
	var sources []string
	var contextDocs []string
	for _, sn := range snippets {
		sources = append(sources, sn.Name)
		contextDocs = append(contextDocs, sn.Text)
	}

	if _, err := a.sess.AddMessage(session.RoleUser, text, session.Meta{Sources: sources}); err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}
	a.logEvent(eventlog.EventMessageAdded, map[string]any{"role": "user"})

	req := &provider.ChatRequest{
		Model:        a.cfg.Model,
		Messages:     toProviderMessages(a.sess.History()),
		SystemPrompt: a.systemPrompt(contextDocs),
		MaxTokens:    a.tracker.EstimateResponseTokens(a.cfg.Session.MaxResponseTokens),
	}

	events, err := a.provider.Chat(ctx, req)
	if err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}

	var answer, reasoning strings.Builder
	for ev := range events {
		switch ev.Type {
		case provider.EventTextDelta:
			fmt.Print(ev.TextDelta)
			answer.WriteString(ev.TextDelta)
		case provider.EventReasoningDelta:
			fmt.Print(styleReasoning.Render(ev.ReasoningDelta))
			reasoning.WriteString(ev.ReasoningDelta)
		case provider.EventError:
			fmt.Println(styleErr.Render("\n" + ev.Error.Error()))
			return
		}
	}
	fmt.Println()

	text, reason := strings.TrimSpace(answer.String()), strings.TrimSpace(reasoning.String())
	if reason == "" {
		if r, ans := provider.ExtractReasoning(text); r != "" {
			reason, text = r, ans
		}
	}
	if text == "" {
		fmt.Println(styleWarn.Render("model returned no text"))
		return
	}

	if _, err := a.sess.AddMessage(session.RoleAssistant, text, session.Meta{Reasoning: reason}); err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}
	a.logEvent(eventlog.EventMessageAdded, map[string]any{"role": "assistant"})

	a.refreshBudget(contextDocs)
	a.reportBudget(ctx)
}

func (a *chatApp) retrieve(query string) []rag.Snippet {
	if a.docs == nil {
		return nil
	}
	snippets, err := a.docs.Retrieve(query, a.cfg.RAG.TopK)
	if err != nil {
		// Retrieval failure means no context, never a failed turn.
		fmt.Fprintln(os.Stderr, styleWarn.Render("retrieval failed: "+err.Error()))
		return nil
	}
	return snippets
}

func (a *chatApp) systemPrompt(contextDocs []string) string {
	prompt := a.cfg.SystemPrompt
	if len(contextDocs) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nRelevant reference material:\n")
	for _, doc := range contextDocs {
		sb.WriteString("- ")
		sb.WriteString(doc)
		sb.WriteString("\n")
	}
	return sb.String()
}

func toProviderMessages(msgs []session.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, provider.Message{Role: provider.Role(m.Role), Content: m.Content})
	}
	return out
}

func (a *chatApp) refreshBudget(contextDocs []string) {
	a.tracker.Refresh(a.sess.History(), a.cfg.SystemPrompt, contextDocs)
}

// reportBudget prints the warning banner and auto-summarizes past the
// critical threshold.
func (a *chatApp) reportBudget(ctx context.Context) {
	usage := a.tracker.CurrentUsage()
	switch a.tracker.WarningLevel() {
	case session.WarnCritical:
		fmt.Println(styleCritical.Render(fmt.Sprintf(
			"token budget critical: %d/%d (%.0f%%), summarizing old history",
			usage.Current, usage.Max, usage.Percentage*100)))
		a.cmdSummarize(ctx)
	case session.WarnWarning:
		fmt.Println(styleWarn.Render(fmt.Sprintf(
			"token budget high: %d/%d (%.0f%%), consider /summarize",
			usage.Current, usage.Max, usage.Percentage*100)))
	}
}

// ── Branch commands ──

func (a *chatApp) cmdBranch(args []string) {
	if len(args) < 1 {
		fmt.Println(styleErr.Render("usage: /branch <msg#> [name]"))
		return
	}
	msg, ok := a.messageAt(args[0])
	if !ok {
		return
	}
	name := strings.Join(args[1:], " ")
	b, err := a.sess.Branches().Create(msg.ID, name)
	if err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}
	a.logEvent(eventlog.EventBranchCreated, map[string]any{"branch": b.Name, "from": msg.ID})
	fmt.Printf("created and switched to %s (%s)\n", styleBranch.Render(b.Name), shortID(b.ID))
}

func (a *chatApp) cmdBranches() {
	active := a.sess.Branches().Active()
	for _, b := range a.sess.Branches().List() {
		marker := " "
		if b.ID == active.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %d message(s)\n", marker, shortID(b.ID), styleBranch.Render(b.Name), b.MessageCount())
	}
}

func (a *chatApp) cmdSwitch(args []string) {
	if len(args) != 1 {
		fmt.Println(styleErr.Render("usage: /switch <branch>"))
		return
	}
	b, ok := a.resolveBranch(args[0])
	if !ok {
		return
	}
	if !a.sess.Branches().Switch(b.ID) {
		fmt.Println(styleErr.Render("branch not found"))
		return
	}
	fmt.Printf("switched to %s\n", styleBranch.Render(b.Name))
}

func (a *chatApp) cmdMerge(args []string) {
	if len(args) != 2 {
		fmt.Println(styleErr.Render("usage: /merge <src> <dst>"))
		return
	}
	src, ok := a.resolveBranch(args[0])
	if !ok {
		return
	}
	dst, ok := a.resolveBranch(args[1])
	if !ok {
		return
	}
	if err := a.sess.Branches().Merge(src.ID, dst.ID); err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}
	a.logEvent(eventlog.EventBranchMerged, map[string]any{"src": src.Name, "dst": dst.Name})
	fmt.Printf("merged %s into %s\n", styleBranch.Render(src.Name), styleBranch.Render(dst.Name))
}

func (a *chatApp) cmdDeleteBranch(args []string) {
	if len(args) != 1 {
		fmt.Println(styleErr.Render("usage: /delete-branch <branch>"))
		return
	}
	b, ok := a.resolveBranch(args[0])
	if !ok {
		return
	}
	if !a.sess.Branches().Delete(b.ID) {
		fmt.Println(styleErr.Render("cannot delete that branch"))
		return
	}
	a.logEvent(eventlog.EventBranchDeleted, map[string]any{"branch": b.Name})
	fmt.Printf("deleted %s; now on %s\n", b.Name, styleBranch.Render(a.sess.Branches().Active().Name))
}

func (a *chatApp) cmdTree() {
	nodes := a.sess.Branches().Tree()
	byID := make(map[string]session.TreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	var render func(id string, depth int)
	render = func(id string, depth int) {
		n := byID[id]
		marker := "  "
		if n.Active {
			marker = "* "
		}
		fmt.Printf("%s%s%s (%s)\n", strings.Repeat("  ", depth), marker, styleBranch.Render(n.Name), shortID(n.ID))
		for _, child := range n.ChildIDs {
			render(child, depth+1)
		}
	}
	for _, n := range nodes {
		if n.ParentID == "" {
			render(n.ID, 0)
		}
	}
}

// resolveBranch matches by name, full id, or unambiguous id prefix.
func (a *chatApp) resolveBranch(ref string) (session.Branch, bool) {
	var match session.Branch
	var hits int
	for _, b := range a.sess.Branches().List() {
		if b.ID == ref || b.Name == ref {
			return b, true
		}
		if strings.HasPrefix(b.ID, ref) {
			match, hits = b, hits+1
		}
	}
	switch hits {
	case 1:
		return match, true
	case 0:
		fmt.Println(styleErr.Render("no branch matches " + ref))
	default:
		fmt.Println(styleErr.Render("ambiguous branch " + ref))
	}
	return session.Branch{}, false
}

// ── Message commands ──

// messageAt resolves a 1-based (or negative) position in the active branch.
func (a *chatApp) messageAt(ref string) (session.Message, bool) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		fmt.Println(styleErr.Render("message reference must be a number"))
		return session.Message{}, false
	}
	idx := n
	if n > 0 {
		idx = n - 1
	}
	msg, err := a.sess.MessageAt(idx)
	if err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return session.Message{}, false
	}
	return msg, true
}

func (a *chatApp) cmdPin(pin bool, args []string) {
	if len(args) != 1 {
		fmt.Println(styleErr.Render("usage: /pin <msg#> or /unpin <msg#>"))
		return
	}
	msg, ok := a.messageAt(args[0])
	if !ok {
		return
	}
	if pin {
		a.sess.Pin(msg.ID)
		fmt.Println("pinned")
	} else {
		a.sess.Unpin(msg.ID)
		fmt.Println("unpinned")
	}
}

func (a *chatApp) cmdFeedback(args []string) {
	if len(args) != 2 {
		fmt.Println(styleErr.Render("usage: /feedback <msg#> <positive|negative|none>"))
		return
	}
	msg, ok := a.messageAt(args[0])
	if !ok {
		return
	}
	fb := session.Feedback(args[1])
	if args[1] == "none" {
		fb = session.FeedbackNone
	}
	if !a.sess.SetFeedback(msg.ID, fb) {
		fmt.Println(styleErr.Render("invalid feedback value"))
		return
	}
	fmt.Println("feedback recorded")
}

func (a *chatApp) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println(styleErr.Render("usage: /delete <msg#>"))
		return
	}
	msg, ok := a.messageAt(args[0])
	if !ok {
		return
	}
	if !a.sess.DeleteMessage(msg.ID) {
		fmt.Println(styleErr.Render("message not found"))
		return
	}
	fmt.Println("deleted")
}

func (a *chatApp) cmdSearch(query string) {
	if query == "" {
		fmt.Println(styleErr.Render("usage: /search <text>"))
		return
	}
	hits := a.sess.SearchMessages(query)
	if len(hits) == 0 {
		fmt.Println(styleInfo.Render("no matches"))
		return
	}
	a.printMessages(hits)
}

func (a *chatApp) printMessages(msgs []session.Message) {
	for i, m := range msgs {
		flags := ""
		if m.Pinned {
			flags += " 📌"
		}
		if m.Feedback != session.FeedbackNone {
			flags += " [" + string(m.Feedback) + "]"
		}
		fmt.Printf("%s %s%s\n", styleInfo.Render(fmt.Sprintf("%2d %-9s", i+1, m.Role)), firstLine(m.Content, 90), flags)
	}
}

// ── Budget and summarization ──

func (a *chatApp) cmdTokens() {
	a.refreshBudget(nil)
	usage := a.tracker.CurrentUsage()
	bd := usage.Breakdown
	fmt.Printf("system prompt  %6d\n", bd.SystemPrompt)
	fmt.Printf("chat history   %6d\n", bd.ChatHistory)
	fmt.Printf("context        %6d\n", bd.Context)
	fmt.Printf("total          %6d / %d (%.1f%%)\n", bd.Total, usage.Max, usage.Percentage*100)
	switch a.tracker.WarningLevel() {
	case session.WarnCritical:
		fmt.Println(styleCritical.Render("level: critical"))
	case session.WarnWarning:
		fmt.Println(styleWarn.Render("level: warning"))
	default:
		fmt.Println(styleInfo.Render("level: normal"))
	}
}

func (a *chatApp) cmdSummarize(ctx context.Context) {
	res := a.coord.SummarizeMessages(ctx, a.sess.Messages(), a.cfg.Session.PreserveRecent)
	if !res.OK {
		fmt.Println(styleErr.Render("summarization failed: " + res.Reason))
		return
	}
	if len(res.OriginalIDs) == 0 {
		fmt.Println(styleInfo.Render("history is short, nothing to condense"))
		return
	}
	summary, err := a.sess.ApplySummary(res)
	if err != nil {
		fmt.Println(styleErr.Render("apply summary: " + err.Error()))
		return
	}
	a.logEvent(eventlog.EventSummarySplice, map[string]any{
		"condensed":    len(res.OriginalIDs),
		"tokens_saved": res.TokensSaved,
	})
	a.refreshBudget(nil)
	fmt.Printf("condensed %d message(s), saved ~%d tokens\n", len(res.OriginalIDs), res.TokensSaved)
	fmt.Println(styleInfo.Render(firstLine(summary.Content, 120)))
}

// ── Document commands ──

func (a *chatApp) cmdDocs(args []string, line string) {
	if a.docs == nil {
		fmt.Println(styleErr.Render("document store unavailable"))
		return
	}
	if len(args) == 0 {
		fmt.Println(styleErr.Render("usage: /docs add|list|rm|find"))
		return
	}
	switch args[0] {
	case "add":
		if len(args) < 3 {
			fmt.Println(styleErr.Render("usage: /docs add <name> <text>"))
			return
		}
		// Cut "/docs add <name>" positionally; the name may repeat in
		// the document text.
		content := restAfterFields(line, 3)
		d, err := a.docs.Add(args[1], content)
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return
		}
		fmt.Printf("stored %s (%s)\n", d.Name, d.ID)
	case "list":
		docs, err := a.docs.List(0)
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return
		}
		if len(docs) == 0 {
			fmt.Println(styleInfo.Render("no documents"))
			return
		}
		for _, d := range docs {
			fmt.Printf("%s  %s  %s\n", d.ID, d.CreatedAt.Format("2006-01-02 15:04"), d.Name)
		}
	case "rm":
		if len(args) != 2 {
			fmt.Println(styleErr.Render("usage: /docs rm <id>"))
			return
		}
		if err := a.docs.Delete(args[1]); err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return
		}
		fmt.Println("removed")
	case "find":
		query := strings.Join(args[1:], " ")
		snippets, err := a.docs.Retrieve(query, a.cfg.RAG.TopK)
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return
		}
		if len(snippets) == 0 {
			fmt.Println(styleInfo.Render("no matches"))
			return
		}
		for _, sn := range snippets {
			fmt.Printf("%s (%s): %s\n", sn.Name, sn.DocumentID, firstLine(sn.Text, 100))
		}
	default:
		fmt.Println(styleErr.Render("usage: /docs add|list|rm|find"))
	}
}

func (a *chatApp) cmdEvents() {
	if a.events == nil {
		fmt.Println(styleErr.Render("event log unavailable"))
		return
	}
	events, err := a.events.ReadRecent(15)
	if err != nil {
		fmt.Println(styleErr.Render(err.Error()))
		return
	}
	for _, ev := range events {
		fmt.Printf("%s  %s\n", ev.Timestamp.Format("15:04:05"), ev.Type)
	}
}

// ── Helpers ──

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// restAfterFields returns line with its first n whitespace-separated fields
// removed, trimmed. Empty when the line has n fields or fewer.
func restAfterFields(line string, n int) string {
	s := line
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " \t")
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return strings.TrimSpace(s)
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + "…"
	}
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
