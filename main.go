package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"haruki-cri-extractor/api"
	"haruki-cri-extractor/batch"
	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils/cricodecs/criacb"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/tabledump"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/spf13/pflag"
)

const usage = `Usage: haruki-cri-extractor [--config FILE] <command> [flags] [args]

Commands:
  extract PATH   export every ACB (and optionally AWB) under PATH
  dump FILE      print a UTF table (ACB or standalone @UTF) with nested tables
  serve          run the HTTP API

Global flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	flagSet := pflag.NewFlagSet("haruki-cri-extractor", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config (default "+config.DefaultPath+" if present)")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() {
		_, _ = fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := loadConfig(configPath); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return pflag.ErrHelp
	}
	switch rest[0] {
	case "extract":
		return runExtract(rest[1:])
	case "dump":
		return runDump(rest[1:])
	case "serve":
		return runServe()
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func loadConfig(path string) error {
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			return nil
		}
	}
	return config.Load(path)
}

// openLog points every logger at stdout, teeing to MainLogFile when set,
// at the configured level.
func openLog() (io.Writer, func(), error) {
	if config.Cfg.Backend.MainLogFile == "" {
		harukiLogger.Configure(config.Cfg.Backend.LogLevel, os.Stdout)
		return os.Stdout, func() {}, nil
	}
	logFile, err := os.OpenFile(config.Cfg.Backend.MainLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open main log file: %w", err)
	}
	writer := io.MultiWriter(os.Stdout, logFile)
	harukiLogger.Configure(config.Cfg.Backend.LogLevel, writer)
	return writer, func() { _ = logFile.Close() }, nil
}

func runExtract(args []string) error {
	cfg := config.Cfg
	flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	flagSet.StringVarP(&cfg.Extract.OutputDir, "output", "o", cfg.Extract.OutputDir, "output directory")
	flagSet.StringVar(&cfg.Extract.ManifestFormat, "manifest", cfg.Extract.ManifestFormat, "manifest format: json, msgpack or none")
	flagSet.StringVar(&cfg.Extract.MasterKey, "key", cfg.Extract.MasterKey, "HCA master key passed to the decoder")
	flagSet.StringVar(&cfg.Extract.SkipPattern, "skip", cfg.Extract.SkipPattern, "skip assets whose name matches this pattern")
	flagSet.BoolVar(&cfg.Extract.IncludeAWB, "include-awb", cfg.Extract.IncludeAWB, "also export AWB files no ACB references")
	flagSet.BoolVar(&cfg.Extract.UploadToCloud, "upload", cfg.Extract.UploadToCloud, "upload exported files to remote storages")
	flagSet.IntVarP(&cfg.Extract.ConcurrentFiles, "jobs", "j", cfg.Extract.ConcurrentFiles, "files exported concurrently")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("extract takes exactly one path, got %d", flagSet.NArg())
	}

	writer, closeLog, err := openLog()
	if err != nil {
		return err
	}
	defer closeLog()
	mainLogger := harukiLogger.NewLogger("Main", config.Cfg.Backend.LogLevel, writer)

	runner, err := batch.NewRunner(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := flagSet.Arg(0)
	mainLogger.Infof("Extracting %s to %s", path, cfg.Extract.OutputDir)
	result, err := runner.Run(ctx, path)
	if result != nil {
		mainLogger.Infof("Exported %d files", len(result.Manifests))
	}
	return err
}

func runDump(args []string) error {
	var format, output string
	var shiftJIS bool
	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	flagSet.StringVarP(&format, "format", "f", "json", "output format: json or msgpack")
	flagSet.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	flagSet.BoolVar(&shiftJIS, "shift-jis", false, "decode strings as Shift-JIS")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("dump takes exactly one file, got %d", flagSet.NArg())
	}

	data, err := os.ReadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	var opts []criacb.ParseOption
	if shiftJIS {
		opts = append(opts, criacb.WithShiftJIS())
	}
	table, err := criacb.ParseUTFTable(data, opts...)
	if err != nil {
		return err
	}

	var out []byte
	switch strings.ToLower(format) {
	case "json":
		out, err = tabledump.MarshalJSON(table)
	case "msgpack":
		out, err = tabledump.MarshalMsgpack(table)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return err
	}
	if output != "" {
		return os.WriteFile(output, out, 0o644)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func runServe() error {
	writer, closeLog, err := openLog()
	if err != nil {
		return err
	}
	defer closeLog()
	mainLogger := harukiLogger.NewLogger("Main", config.Cfg.Backend.LogLevel, writer)
	mainLogger.Infof("========================= Haruki CRI Extractor %s =========================", config.Version)
	mainLogger.Infof("Powered By Haruki Dev Team")

	app := fiber.New(fiber.Config{
		BodyLimit:   config.Cfg.Backend.BodyLimitMB * 1024 * 1024,
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})

	if config.Cfg.Backend.AccessLog != "" {
		logCfg := logger.Config{Format: config.Cfg.Backend.AccessLog}
		if config.Cfg.Backend.AccessLogPath != "" {
			accessLogFile, err := os.OpenFile(config.Cfg.Backend.AccessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open access log file: %w", err)
			}
			defer func(accessLogFile *os.File) {
				_ = accessLogFile.Close()
			}(accessLogFile)
			logCfg.Stream = accessLogFile
		}
		app.Use(logger.New(logCfg))
	}

	api.RegisterRoutes(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		mainLogger.Infof("Shutting down, waiting for running extractions")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", config.Cfg.Backend.Host, config.Cfg.Backend.Port)
	listenCfg := fiber.ListenConfig{}
	if config.Cfg.Backend.SSL {
		listenCfg.CertFile = config.Cfg.Backend.SSLCert
		listenCfg.CertKeyFile = config.Cfg.Backend.SSLKey
	}
	if err := app.Listen(addr, listenCfg); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	api.Wait()
	return nil
}
