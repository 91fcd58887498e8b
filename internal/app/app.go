// Package app wires the services together and routes API requests.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/adapter"
	"github.com/jun/soapnote/internal/adapter/gemini"
	"github.com/jun/soapnote/internal/adapter/googledrive"
	"github.com/jun/soapnote/internal/adapter/memory"
	"github.com/jun/soapnote/internal/aicall"
	"github.com/jun/soapnote/internal/archive"
	"github.com/jun/soapnote/internal/audio"
	"github.com/jun/soapnote/internal/auth"
	"github.com/jun/soapnote/internal/chart"
	"github.com/jun/soapnote/internal/config"
	"github.com/jun/soapnote/internal/crypto"
	"github.com/jun/soapnote/internal/handler"
	"github.com/jun/soapnote/internal/inbox"
	"github.com/jun/soapnote/internal/metrics"
	"github.com/jun/soapnote/internal/pipeline"
	"github.com/jun/soapnote/internal/secret"
	"github.com/jun/soapnote/internal/session"
	"github.com/jun/soapnote/internal/statusfeed"
	"github.com/jun/soapnote/internal/storage"
	"github.com/jun/soapnote/internal/transcribe"
)

const devJWTSecret = "default-dev-secret"

// App holds the wired services.
type App struct {
	authHandler     *handler.AuthHandler
	chartHandler    *handler.ChartHandler
	driveHandler    *handler.DriveHandler
	settingsHandler *handler.SettingsHandler

	Auth     *auth.Manager
	Pipeline *pipeline.Orchestrator
	Hub      *statusfeed.Hub
	Inbox    *inbox.Watcher

	frontendURL string
	logger      *zap.Logger
}

// statusMessage is what the status feed sends to browsers.
type statusMessage struct {
	Type string             `json:"type"`
	Run  *pipeline.Snapshot `json:"run,omitempty"`
	Auth auth.State         `json:"auth,omitempty"`
	// Message is the human readable status line of a run event.
	Message string `json:"message,omitempty"`
}

// NewApp initializes the application dependencies. reg may be nil.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	m := metrics.Nop()
	if reg != nil {
		m = metrics.New(reg)
	}

	var awsCfg *aws.Config
	needAWS := cfg.StorageBackend == "dynamodb" || cfg.Sealer == "kms" || !cfg.IsDevelopment()
	if needAWS {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
		awsCfg = &c
	}

	// ---------- Storage ----------
	var store storage.Store
	var dynamoClient *dynamodb.Client
	switch cfg.StorageBackend {
	case "dynamodb":
		dynamoClient = dynamodb.NewFromConfig(*awsCfg)
		store = storage.NewDynamoStore(dynamoClient, cfg.KVTable)
		logger.Info("Using DynamoDB storage", zap.String("table", cfg.KVTable))
	case "memory":
		store = storage.NewMemoryStore()
		logger.Info("Using in-memory storage")
	default:
		fs, err := storage.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		store = fs
		logger.Info("Using file storage", zap.String("dir", cfg.StateDir))
	}

	// ---------- Token sealing ----------
	var enc crypto.Encryptor
	switch cfg.Sealer {
	case "kms":
		enc = crypto.NewKMSService(kms.NewFromConfig(*awsCfg), cfg.KMSKeyID)
	case "plain":
		enc = crypto.NewPlainEncryptor()
		logger.Warn("Refresh token is stored unsealed (TOKEN_SEALER=plain)")
	default:
		key, err := crypto.LoadOrCreateKey(cfg.SealKeyFile)
		if err != nil {
			return nil, err
		}
		box, err := crypto.NewSealedBox(key)
		if err != nil {
			return nil, err
		}
		enc = box
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if cfg.IsDevelopment() {
		resolver = secret.NewEnvResolver()
		logger.Info("Using EnvResolver (development)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(*awsCfg))
		logger.Info("Using SSMResolver (SSM Parameter Store)")
	}
	settings := secret.NewSettings(store, resolver, map[string]string{
		secret.GeminiKey:          cfg.GeminiKeyParam,
		secret.GoogleClientID:     cfg.GoogleClientIDParam,
		secret.GoogleDeveloperKey: cfg.GoogleDeveloperKeyParam,
	})

	jwtSecret, err := resolver.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("failed to resolve JWT secret: %w", err)
		}
		logger.Warn("Failed to resolve JWT secret, using development default", zap.Error(err))
		jwtSecret = devJWTSecret
	}

	// ---------- Auth ----------
	gateway := auth.NewOAuth2Gateway(auth.GatewayConfig{
		ClientID:    settings.Func(secret.GoogleClientID),
		RedirectURL: cfg.RedirectURL,
	})
	manager := auth.NewManager(gateway, auth.NewTokenStore(store, enc), auth.NewMemoryPKCEStore(), logger, m)
	if err := manager.Restore(ctx); err != nil {
		logger.Warn("Failed to restore saved token", zap.Error(err))
	}

	// ---------- Workspace Provider ----------
	var provider adapter.Provider
	if cfg.DevMode {
		provider = memory.NewProvider(memory.NewWorkspace(store, "local@example.com"))
		logger.Info("Using MemoryProvider (DEV_MODE=true)")
	} else {
		provider = googledrive.NewProvider(manager)
	}

	loc, err := time.LoadLocation(cfg.ConsultationZone)
	if err != nil {
		return nil, err
	}
	workspace := archive.NewService(provider, archive.Config{
		FolderID: cfg.ArchiveFolderID,
		Prefix:   cfg.ArchivePrefix,
		Location: loc,
	}, logger)

	// ---------- AI ----------
	caller := aicall.NewCaller(gemini.New(settings.Func(secret.GeminiKey)), aicall.Policy{
		Primary:     cfg.PrimaryModel,
		Fallback:    cfg.FallbackModel,
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryDelay,
		Timeout:     cfg.CallTimeout,
	}, logger, m)

	// ---------- Run lock ----------
	var locker session.Locker
	if dynamoClient != nil {
		locker = session.NewLockManager(dynamoClient, cfg.RunLockTable, cfg.RunLockTTL)
	} else {
		locker = session.NewMemoryLocker(cfg.RunLockTTL)
	}

	orchestrator := pipeline.New(pipeline.Deps{
		Normalizer: audio.NewNormalizer(audio.NewFFmpegDecoder(cfg.FFmpegPath, cfg.SampleRate, cfg.Channels), logger, m),
		Transcriber: transcribe.NewService(caller, transcribe.Config{
			MaxDirectBytes: cfg.MaxDirectBytes,
			ChunkBytes:     cfg.ChunkBytes,
			Concurrency:    cfg.ChunkConcurrency,
		}, logger, m),
		Charter:  chart.NewService(caller, loc, logger),
		Archiver: workspace,
		Locker:   locker,
		LockTTL:  cfg.RunLockTTL,
	}, logger, m)

	signedIn := func() bool { return manager.State() == auth.StateSignedIn }

	app := &App{
		authHandler: handler.NewAuthHandler(manager, workspace.Profile,
			handler.NewSessions(jwtSecret, strings.HasPrefix(cfg.RedirectURL, "https://")),
			cfg.FrontendURL, logger),
		chartHandler: handler.NewChartHandler(orchestrator, workspace, chart.NewRenderer(), signedIn, handler.ChartOptions{
			AutoArchive: cfg.AutoArchive,
			Location:    loc,
		}, logger),
		driveHandler: handler.NewDriveHandler(workspace, handler.DriveConfig{
			DeveloperKey: settings.Func(secret.GoogleDeveloperKey),
			ClientID:     settings.Func(secret.GoogleClientID),
			AccessToken:  manager.AccessToken,
		}, logger),
		settingsHandler: handler.NewSettingsHandler(settings, logger),
		Auth:            manager,
		Pipeline:        orchestrator,
		frontendURL:     cfg.FrontendURL,
		logger:          logger,
	}

	// ---------- Status feed ----------
	app.Hub = statusfeed.NewHub(cfg.FrontendURL, func() any {
		last := orchestrator.Last()
		return statusMessage{Type: "hello", Run: &last, Auth: manager.State()}
	}, logger)
	orchestrator.Subscribe(func(ev pipeline.Event) {
		last := orchestrator.Last()
		app.Hub.Broadcast(statusMessage{Type: "run", Run: &last, Message: ev.Message})
	})
	manager.Subscribe(func(ev auth.Event) {
		if ev.Err != nil {
			logger.Warn("Auth state changed", zap.String("state", string(ev.State)), zap.Error(ev.Err))
		}
		app.Hub.Broadcast(statusMessage{Type: "auth", Auth: ev.State})
	})

	// ---------- Inbox ----------
	if cfg.InboxDir != "" {
		app.Inbox = inbox.New(cfg.InboxDir, inboxHandler(orchestrator, func() bool {
			return cfg.AutoArchive && signedIn()
		}), logger)
	}

	return app, nil
}

// inboxHandler runs dropped files through the pipeline. A file that arrives
// while another run holds the lock is retried later.
func inboxHandler(runner handler.Runner, autoArchive func() bool) inbox.Handler {
	return func(ctx context.Context, b audio.Blob) error {
		in, err := pipeline.FromFile(b, "", time.Now(), autoArchive())
		if err != nil {
			return err
		}
		if _, err = runner.Run(ctx, in); errors.Is(err, pipeline.ErrRunInProgress) {
			return fmt.Errorf("%w: %w", inbox.ErrRetry, err)
		}
		return err
	}
}

// Run blocks running the background workers until ctx is done.
func (app *App) Run(ctx context.Context) error {
	if app.Inbox == nil {
		<-ctx.Done()
		return nil
	}
	app.logger.Info("Watching inbox folder")
	if err := app.Inbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	app.logger.Debug("Request", zap.String("method", method), zap.String("path", path))

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Strip /api prefix if present (for reverse proxying)
	path = strings.TrimPrefix(path, "/api")

	// /auth
	switch {
	case path == "/auth/login" && method == http.MethodGet:
		return app.corsResponse(app.must(app.authHandler.Login(ctx, req))), nil
	case (path == "/auth/callback" || path == "/oauth-callback") && method == http.MethodGet:
		return app.corsResponse(app.must(app.authHandler.Callback(ctx, req))), nil
	case path == "/auth/logout" && method == http.MethodPost:
		return app.corsResponse(app.must(app.authHandler.Logout(ctx, req))), nil
	case path == "/auth/status" && method == http.MethodGet:
		return app.corsResponse(app.must(app.authHandler.Status(ctx, req))), nil
	case path == "/auth/refresh" && method == http.MethodPost:
		return app.corsResponse(app.must(app.authHandler.Refresh(ctx, req))), nil
	}

	// /charts
	switch {
	case path == "/charts" && method == http.MethodPost:
		return app.corsResponse(app.must(app.chartHandler.Create(ctx, req))), nil
	case path == "/charts/current" && method == http.MethodGet:
		return app.corsResponse(app.must(app.chartHandler.Current(ctx, req))), nil
	case path == "/charts/current/export" && method == http.MethodGet:
		return app.corsResponse(app.must(app.chartHandler.Export(ctx, req))), nil
	case path == "/charts/analyze" && method == http.MethodPost:
		return app.corsResponse(app.must(app.chartHandler.Analyze(ctx, req))), nil
	case path == "/charts/save" && method == http.MethodPost:
		return app.corsResponse(app.must(app.chartHandler.Save(ctx, req))), nil
	}

	// /drive, /calendar
	if path == "/drive/import" && method == http.MethodPost {
		return app.corsResponse(app.must(app.chartHandler.Import(ctx, req))), nil
	}
	if path == "/drive/files" && method == http.MethodGet {
		return app.corsResponse(app.must(app.driveHandler.Files(ctx, req))), nil
	}
	if path == "/drive/picker" && method == http.MethodGet {
		return app.corsResponse(app.must(app.driveHandler.Picker(ctx, req))), nil
	}
	if path == "/calendar/today" && method == http.MethodGet {
		return app.corsResponse(app.must(app.chartHandler.Today(ctx, req))), nil
	}

	// /settings
	if path == "/settings" {
		if method == http.MethodGet {
			return app.corsResponse(app.must(app.settingsHandler.Get(ctx, req))), nil
		}
		if method == http.MethodPut {
			return app.corsResponse(app.must(app.settingsHandler.Update(ctx, req))), nil
		}
	}

	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	if resp.Headers["Access-Control-Allow-Origin"] == "" {
		resp.Headers["Access-Control-Allow-Origin"] = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, logging the error.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("Handler error", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
