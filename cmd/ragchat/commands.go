package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/httpapi"
	"ragchat/internal/tui"
)

var (
	okText   = color.New(color.FgGreen, color.Bold).SprintFunc()
	headText = color.New(color.FgCyan, color.Bold).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	errText  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
)

func runServe(ctx context.Context, cfg *config.AppConfig) error {
	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	provider, err := a.provider()
	if err != nil {
		return err
	}
	sessions := chat.NewSessionStore(provider, a.chatOptions(), a.log.With("component", "chat"))
	srv := httpapi.NewServer(a.pipeline, a.retrieval, sessions, httpapi.Options{
		TopK:          cfg.Retrieval.TopK,
		WebSocketTopK: cfg.Retrieval.WebSocketTopK,
		Provider:      provider.Name(),
		Model:         cfg.LLM.Model,
	}, a.log.With("component", "http"))
	return srv.ListenAndServe(ctx, cfg.Server.Addr, time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
}

// runChat logs to a file next to the registry so output does not corrupt the UI.
func runChat(ctx context.Context, cfg *config.AppConfig, files []string) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Documents.DatabasePath), 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(filepath.Dir(cfg.Documents.DatabasePath), "ragchat.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, logFile))
	if err != nil {
		return err
	}
	defer a.Close()
	provider, err := a.provider()
	if err != nil {
		return err
	}
	if len(files) > 0 {
		ingestFiles(ctx, a, files)
	}
	st, err := a.retrieval.Stats(ctx)
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%d documents, %d chunks in the %s index. Model: %s (%s)",
		st.TotalSources, st.TotalChunks, cfg.VectorStore.Type, cfg.LLM.Model, provider.Name())

	session := chat.NewSessionStore(provider, a.chatOptions(), a.log.With("component", "chat")).Create()
	m := tui.New(ctx, a.retrieval, session, cfg.Retrieval.TopK, summary)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func runIngest(ctx context.Context, cfg *config.AppConfig, files []string) error {
	if len(files) == 0 {
		return errors.New("no files given")
	}
	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	if failed := ingestFiles(ctx, a, files); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// ingestFiles indexes files in place and reports each outcome.
func ingestFiles(ctx context.Context, a *app, files []string) (failed int) {
	for _, f := range files {
		doc, err := a.pipeline.IngestPath(ctx, f)
		switch {
		case errors.Is(err, domain.ErrDuplicateDocument):
			fmt.Printf("%s %s %s\n", warnText("skip"), f, dimText("(same content already indexed as "+doc.FilePath+")"))
		case err != nil:
			failed++
			fmt.Printf("%s %s: %v\n", errText("fail"), f, err)
		default:
			fmt.Printf("%s %s %s\n", okText("ok"), f, dimText(fmt.Sprintf("(%d words)", doc.WordCount)))
			if doc.Summary != "" {
				fmt.Printf("   %s\n", dimText(doc.Summary))
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return failed
}

func runSearch(ctx context.Context, cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fileType := fs.String("type", "", "restrict results to a file type (pdf, docx, txt, md, jpg, jpeg, png)")
	topK := fs.Int("k", cfg.Retrieval.TopK, "number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("empty query")
	}
	var filter *domain.Filter
	if *fileType != "" {
		ft, err := domain.ParseFileType(*fileType)
		if err != nil {
			return err
		}
		filter = domain.Eq(domain.FieldSourceType, string(ft))
	}

	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	results, err := a.retrieval.Search(ctx, query, *topK, filter)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println(warnText("no results"))
		return nil
	}
	for i, r := range results {
		fmt.Printf("%s %s #%d %s\n", headText(fmt.Sprintf("[%d]", i+1)), r.Metadata.Filename, r.Metadata.ChunkIndex,
			dimText(fmt.Sprintf("score=%.3f %s", r.Score, r.Metadata.SourcePath)))
		fmt.Printf("    %s\n", snippet(r.Content, 200))
	}
	return nil
}

func runStats(ctx context.Context, cfg *config.AppConfig) error {
	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	st, err := a.retrieval.Stats(ctx)
	if err != nil {
		return err
	}
	docs, err := a.pipeline.List(ctx, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d\n", headText("indexed chunks:   "), st.TotalChunks)
	fmt.Printf("%s %d\n", headText("indexed documents:"), st.TotalSources)
	fmt.Printf("%s %d\n", headText("registered files: "), len(docs))
	fmt.Printf("%s %s\n", headText("vector store:     "), cfg.VectorStore.Type)
	return nil
}

func runClear(ctx context.Context, cfg *config.AppConfig) error {
	a, err := newApp(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.retrieval.Clear(ctx); err != nil {
		return err
	}
	fmt.Println(okText("knowledge base cleared"))
	return nil
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > n {
		return string(r[:n]) + "..."
	}
	return text
}
