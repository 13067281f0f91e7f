// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all edits routes with the router.
//
// Description:
//
//	Registers all /v1/edits/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Engine Endpoints:
//
//	POST /v1/edits/decompose - Split a rewrite into minimal changes
//	POST /v1/edits/check - Check a proposed file against current text
//	POST /v1/edits/apply-selected - Apply chosen changes in memory
//	POST /v1/edits/apply-patch - Apply a unified diff to text
//	POST /v1/edits/preview - Render a unified diff
//
// File Endpoints:
//
//	POST /v1/edits/files/plan - Plan a rewrite or patch against a file
//	GET  /v1/edits/files - List planned files
//	GET  /v1/edits/files/get - Get one planned file
//	GET  /v1/edits/files/history - Apply history of one file
//	POST /v1/edits/files/check - Check a planned file against disk
//	POST /v1/edits/files/apply - Apply changes and commit
//	POST /v1/edits/files/apply-batch - Apply several files
//	GET  /v1/edits/files/apply-batch/stream - Apply several files, streaming progress (WebSocket)
//	POST /v1/edits/files/discard - Discard changes
//	POST /v1/edits/files/skip - Skip a file
//	POST /v1/edits/files/revert - Undo the last apply
//
// Health Endpoints:
//
//	GET  /v1/edits/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	edits := rg.Group("/edits")
	{
		edits.POST("/decompose", handlers.HandleDecompose)
		edits.POST("/check", handlers.HandleCheck)
		edits.POST("/apply-selected", handlers.HandleApplySelected)
		edits.POST("/apply-patch", handlers.HandleApplyPatch)
		edits.POST("/preview", handlers.HandlePreview)

		files := edits.Group("/files")
		{
			files.POST("/plan", handlers.HandlePlan)
			files.GET("", handlers.HandleListFiles)
			files.GET("/get", handlers.HandleGetFile)
			files.GET("/history", handlers.HandleHistory)
			files.POST("/check", handlers.HandleFileCheck)
			files.POST("/apply", handlers.HandleApply)
			files.POST("/apply-batch", handlers.HandleApplyBatch)
			files.GET("/apply-batch/stream", handlers.HandleApplyBatchStream)
			files.POST("/discard", handlers.HandleDiscard)
			files.POST("/skip", handlers.HandleSkip)
			files.POST("/revert", handlers.HandleRevert)
		}

		edits.GET("/health", handlers.HandleHealth)
	}
}
