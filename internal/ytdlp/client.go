package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const DefaultBinary = "yt-dlp"

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// ErrNoCaptions is returned when yt-dlp ran cleanly but wrote no subtitle file.
var ErrNoCaptions = errors.New("no subtitles available for requested languages")

// ErrBinaryMissing is returned when the yt-dlp executable cannot be found.
var ErrBinaryMissing = errors.New("yt-dlp executable not found")

type CaptionOptions struct {
	Binary      string
	VideoURL    string
	VideoID     string
	WorkDir     string
	SubLangs    string
	CookiesPath string
	ProxyURL    string
	JSRuntime   string
	LogWriter   io.Writer
	Progress    func(stream OutputStream, line string)
}

// VideoInfo is the subset of yt-dlp's info json the transcript metadata uses.
type VideoInfo struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	Channel           string                     `json:"channel"`
	Uploader          string                     `json:"uploader"`
	ChannelID         string                     `json:"channel_id"`
	Duration          float64                    `json:"duration"`
	UploadDate        string                     `json:"upload_date"`
	WebpageURL        string                     `json:"webpage_url"`
	Language          string                     `json:"language"`
	Subtitles         map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`
}

func (v VideoInfo) ChannelName() string {
	if strings.TrimSpace(v.Channel) != "" {
		return v.Channel
	}
	return v.Uploader
}

type Captions struct {
	Text          string
	Language      string
	AutoGenerated bool
	SubtitlePath  string
	Info          VideoInfo
	Command       []string
}

// RunError carries the captured output of a failed yt-dlp invocation.
type RunError struct {
	Err    error
	Stderr string
	Stdout string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("yt-dlp failed: %v\n%s\n%s", e.Err, e.Stderr, e.Stdout)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type DependencyReport struct {
	YTDLPFound bool   `json:"yt_dlp_found"`
	YTDLPPath  string `json:"yt_dlp_path,omitempty"`
}

func DependencyStatus(binary string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(binaryOrDefault(binary)); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	return report
}

func CheckDependencies(binary string) error {
	if !DependencyStatus(binary).YTDLPFound {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", binaryOrDefault(binary))
	}
	return nil
}

func CheckJSRuntime(raw string) (string, error) {
	runtime, ok := normalizeJSRuntime(raw)
	if !ok {
		return "", fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(raw))
	}
	if runtime == "auto" {
		return runtime, nil
	}
	candidates := jsRuntimeBinaryCandidates(runtime)
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return runtime, nil
		}
	}
	return "", fmt.Errorf("missing dependency for js runtime %q: install one of [%s] or set js runtime to auto", runtime, strings.Join(candidates, ", "))
}

// FetchCaptions downloads subtitles and the info json for one video into WorkDir
// and returns the flattened transcript text.
func FetchCaptions(ctx context.Context, opts CaptionOptions) (Captions, error) {
	if strings.TrimSpace(opts.VideoURL) == "" {
		return Captions{}, fmt.Errorf("video URL is required")
	}
	if strings.TrimSpace(opts.WorkDir) == "" {
		return Captions{}, fmt.Errorf("work directory is required")
	}

	args := []string{
		"--no-playlist",
		"--skip-download",
		"--newline",
		"--no-progress",
		"-P", opts.WorkDir,
		"-o", "%(id)s.%(ext)s",
		"--write-info-json",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", normalizeSubLangs(opts.SubLangs),
		"--sub-format", "vtt/best",
		"--convert-subs", "vtt",
	}
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return Captions{}, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	args, err := appendJSRuntimeArgs(args, opts.JSRuntime)
	if err != nil {
		return Captions{}, err
	}
	args = append(args, opts.VideoURL)

	command := append([]string{binaryOrDefault(opts.Binary)}, args...)
	if err := runCommand(ctx, binaryOrDefault(opts.Binary), args, opts); err != nil {
		return Captions{Command: command}, err
	}

	caps, err := collectCaptions(opts.WorkDir, opts.VideoID)
	caps.Command = command
	return caps, err
}

func collectCaptions(dir, videoID string) (Captions, error) {
	var caps Captions
	info, infoErr := readInfo(dir, videoID)
	if infoErr == nil {
		caps.Info = info
	}

	vtts, err := filepath.Glob(filepath.Join(dir, "*.vtt"))
	if err != nil {
		return caps, fmt.Errorf("list subtitles: %w", err)
	}
	if len(vtts) == 0 {
		return caps, ErrNoCaptions
	}
	sort.Strings(vtts)
	path := pickSubtitle(vtts, caps.Info)

	raw, err := os.ReadFile(path)
	if err != nil {
		return caps, fmt.Errorf("read subtitles %s: %w", path, err)
	}
	text := ParseVTT(string(raw))
	if strings.TrimSpace(text) == "" {
		return caps, ErrNoCaptions
	}
	caps.Text = text
	caps.SubtitlePath = path
	caps.Language = subtitleLanguage(path)
	if caps.Info.Subtitles != nil || caps.Info.AutomaticCaptions != nil {
		_, manual := caps.Info.Subtitles[caps.Language]
		caps.AutoGenerated = !manual
	}
	return caps, nil
}

// pickSubtitle prefers manual tracks, then the video's own language, then the first file.
func pickSubtitle(paths []string, info VideoInfo) string {
	for _, p := range paths {
		if _, ok := info.Subtitles[subtitleLanguage(p)]; ok {
			return p
		}
	}
	if info.Language != "" {
		for _, p := range paths {
			if strings.HasPrefix(subtitleLanguage(p), info.Language) {
				return p
			}
		}
	}
	return paths[0]
}

// subtitleLanguage extracts "en" from "<id>.en.vtt".
func subtitleLanguage(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".vtt")
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[i+1:]
	}
	return ""
}

func readInfo(dir, videoID string) (VideoInfo, error) {
	var info VideoInfo
	path := filepath.Join(dir, videoID+".info.json")
	if strings.TrimSpace(videoID) == "" {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.info.json"))
		if len(matches) == 0 {
			return info, os.ErrNotExist
		}
		path = matches[0]
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("parse %s: %w", path, err)
	}
	return info, nil
}

func normalizeSubLangs(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "english", "en":
		return "en.*,en,-live_chat"
	case "all":
		return "all,-live_chat"
	default:
		return raw
	}
}

func appendJSRuntimeArgs(args []string, rawRuntime string) ([]string, error) {
	runtime, ok := normalizeJSRuntime(rawRuntime)
	if !ok {
		return nil, fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(rawRuntime))
	}
	if runtime == "auto" {
		return args, nil
	}
	return append(args, "--no-js-runtimes", "--js-runtimes", runtime), nil
}

func normalizeJSRuntime(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return "auto", true
	case "deno", "node", "quickjs", "bun":
		return strings.ToLower(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

func jsRuntimeBinaryCandidates(runtime string) []string {
	if runtime == "quickjs" {
		return []string{"quickjs", "qjs"}
	}
	return []string{runtime}
}

func binaryOrDefault(binary string) string {
	if strings.TrimSpace(binary) == "" {
		return DefaultBinary
	}
	return strings.TrimSpace(binary)
}

func runCommand(ctx context.Context, binary string, args []string, opts CaptionOptions) error {
	cmd := exec.CommandContext(ctx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryMissing, binary)
		}
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, line)
			if opts.LogWriter != nil {
				_, _ = io.WriteString(opts.LogWriter, line+"\n")
			}
			mu.Unlock()
			if opts.Progress != nil {
				opts.Progress(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		mu.Lock()
		defer mu.Unlock()
		return &RunError{
			Err:    err,
			Stderr: strings.TrimSpace(errBuf.String()),
			Stdout: strings.TrimSpace(outBuf.String()),
		}
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
