//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/studyforge/notebook-api/internal/bootstrap"
	"github.com/studyforge/notebook-api/internal/domain/auth"
	"github.com/studyforge/notebook-api/internal/infra/config"
	httpiface "github.com/studyforge/notebook-api/internal/interface/http"
	"github.com/studyforge/notebook-api/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideAuthConfig,
		provideAuthRepository,
		provideChatGPTClient,
		provideNotebookConfig,
		provideRAGChunker,
		provideRAGTokenCounter,
		provideRAGDispatcher,
		providePDFExtractor,
		provideURLFetcher,
		provideRAGStorage,
		provideRAGCache,
		provideRAGRateLimiter,
		provideRAGLLMClient,
		provideRAGNotebookRepository,
		provideRAGSourceRepository,
		provideRAGChunkRepository,
		provideRAGConversationRepository,
		provideRAGMessageRepository,
		provideRAGGenerationHistoryRepository,
		provideRAGService,
		auth.NewService,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
