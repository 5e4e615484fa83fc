/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package handler

import (
	"fmt"

	"github.com/caiflower/hotpocket/pkg/logger"
	"github.com/caiflower/hotpocket/pkg/tools"
	"github.com/caiflower/hotpocket/web/protocol"
	"github.com/caiflower/hotpocket/web/router"
)

const (
	PathStatus = "/"
	PathSignup = "/signup"
)

// Register 注册应用路由
func Register(table *router.Table) error {
	if err := table.Register(PathStatus, StatusHandler{}, map[string]string{"GET": protocol.MIMEApplicationJSON}); err != nil {
		return fmt.Errorf("register %s: %w", PathStatus, err)
	}
	if err := table.Register(PathSignup, SignupHandler{}, map[string]string{"POST": protocol.MIMEApplicationJSON}); err != nil {
		return fmt.Errorf("register %s: %w", PathSignup, err)
	}
	return nil
}

// StatusHandler 存活检查
type StatusHandler struct{}

func (StatusHandler) ServeRequest(w router.ResponseWriter, _ *protocol.Request) {
	_ = w.Respond(protocol.StatusOK, nil, nil)
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type SignupResponse struct {
	Username string `json:"username"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// SignupHandler 只做解码，不做业务校验
type SignupHandler struct{}

func (SignupHandler) ServeRequest(w router.ResponseWriter, r *protocol.Request) {
	if !r.HasBody {
		_ = w.Respond(protocol.StatusBadRequest, nil, ErrorResponse{Error: "request body is required"})
		return
	}

	req := SignupRequest{}
	if err := tools.Unmarshal([]byte(r.Body), &req); err != nil {
		logger.Debug("[handler] decode signup body failed. err: %s", err.Error())
		_ = w.Respond(protocol.StatusBadRequest, nil, ErrorResponse{Error: fmt.Sprintf("invalid signup body: %s", err.Error())})
		return
	}

	logger.Info("[handler] signup username=%s", req.Username)
	_ = w.Respond(protocol.StatusCreated, nil, SignupResponse{Username: req.Username})
}
