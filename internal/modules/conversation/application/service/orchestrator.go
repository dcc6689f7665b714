package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/application/dto/request"
	"InsightLink/internal/modules/conversation/application/dto/respond"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

const codeInternal = "INTERNAL_ERROR"

// QueryOrchestrator 对话状态机入口
type QueryOrchestrator interface {
	HandleMessage(ctx context.Context, userID string, req request.MessageRequest) (*respond.MessageRespond, error)
	SelectDataSource(ctx context.Context, userID, sessionID, dataSourceID string) (*entity.ConversationSession, error)
}

type OrchestratorDeps struct {
	Sessions    SessionStore
	Contexts    aiservice.ContextManager
	Permissions aiservice.PermissionProvider
	Discoverer  Discoverer
	Schemas     SchemaProvider
	Processor   TurnProcessor
	Notifier    PhaseNotifier
	// HistoryWindow 传给生成器的历史问题条数
	HistoryWindow int
}

type queryOrchestratorImpl struct {
	OrchestratorDeps
}

func NewQueryOrchestrator(deps OrchestratorDeps) QueryOrchestrator {
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 10
	}
	return &queryOrchestratorImpl{OrchestratorDeps: deps}
}

func (o *queryOrchestratorImpl) HandleMessage(ctx context.Context, userID string, req request.MessageRequest) (*respond.MessageRespond, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, xerr.ErrParam
	}
	if ds := strings.TrimSpace(req.DataSourceId); ds != "" {
		if _, ok := o.Schemas.Schema(ds); !ok {
			return nil, xerr.New(xerr.BadRequest, "数据源不存在: "+ds)
		}
	}

	sess, created, err := o.resolveSession(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	if ds := strings.TrimSpace(req.DataSourceId); ds != "" && ds != sess.DataSourceId {
		if sess, err = o.bindDataSource(ctx, userID, sess.Uuid, ds); err != nil {
			return nil, err
		}
	}

	if _, err := o.Sessions.AddMessage(ctx, sess.Uuid, entity.NewMessage(entity.UserText{Text: question})); err != nil {
		return nil, err
	}

	if sess.DataSourceId == "" {
		return o.discover(ctx, userID, sess, question, created)
	}
	return o.process(ctx, userID, sess, question, created)
}

// resolveSession 会话不存在或已过期时透明新建，已结束的会话拒绝继续对话
func (o *queryOrchestratorImpl) resolveSession(ctx context.Context, userID string, req request.MessageRequest) (*entity.ConversationSession, bool, error) {
	if id := strings.TrimSpace(req.SessionId); id != "" {
		d, err := o.Sessions.GetOwnedSession(ctx, userID, id, false)
		switch {
		case err == nil:
			if d.Session.Phase == entity.PhaseEnded || d.Session.Status == entity.StatusCompleted {
				return nil, false, xerr.ErrSessionEnded
			}
			if d.Session.Open() {
				return d.Session, false, nil
			}
			zlog.Info("conversation session unusable, starting a new one", zap.String("session_id", id), zap.String("phase", string(d.Session.Phase)))
		case errors.Is(err, xerr.ErrSessionNotFound), errors.Is(err, xerr.ErrSessionExpired):
			zlog.Info("conversation session missing or expired, starting a new one", zap.String("session_id", id))
		default:
			return nil, false, err
		}
	}
	sess, err := o.Sessions.CreateSession(ctx, userID, req.DataSourceId)
	if err != nil {
		return nil, false, err
	}
	o.notify(userID, sess)
	return sess, true, nil
}

func (o *queryOrchestratorImpl) discover(ctx context.Context, userID string, sess *entity.ConversationSession, question string, created bool) (*respond.MessageRespond, error) {
	sess, err := o.Sessions.SetPhase(ctx, sess.Uuid, entity.PhaseDiscovery)
	if err != nil {
		return nil, err
	}
	o.notify(userID, sess)

	candidates, err := o.Discoverer.Discover(ctx, userID, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zlog.Warn("data source discovery failed", zap.String("session_id", sess.Uuid), zap.Error(err))
		candidates = nil
	}
	text := "Please choose a data source for this question."
	if len(candidates) == 0 {
		text = "No data source matched this question. Please pick one explicitly."
	} else {
		names := make([]string, 0, len(candidates))
		for _, c := range candidates {
			names = append(names, c.Name)
		}
		text = "These data sources may answer your question: " + strings.Join(names, ", ") + ". Please choose one."
	}
	msg, err := o.Sessions.AddMessage(ctx, sess.Uuid, entity.NewMessage(entity.Discovery{Text: text, Candidates: candidates}))
	if err != nil {
		return nil, err
	}
	return respond.FromMessage(sess, msg, created), nil
}

func (o *queryOrchestratorImpl) process(ctx context.Context, userID string, sess *entity.ConversationSession, question string, created bool) (*respond.MessageRespond, error) {
	schema, ok := o.Schemas.Schema(sess.DataSourceId)
	if !ok {
		return o.finish(ctx, userID, sess, entity.Failure{Code: ExecCodeUnknownSource, Text: "The data source bound to this session is no longer available."}, created)
	}
	perm, err := o.Permissions.PermissionFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sess, err = o.Sessions.SetPhase(ctx, sess.Uuid, entity.PhaseProcessing); err != nil {
		return nil, err
	}
	o.notify(userID, sess)

	history, err := o.previousQuestions(ctx, sess.Uuid, question)
	if err != nil {
		return nil, o.abort(userID, sess, err)
	}
	if refreshed, err := o.Sessions.ExtractContextFromHistory(ctx, sess.Uuid); err == nil {
		sess = refreshed
	} else if ctx.Err() != nil {
		return nil, o.abort(userID, sess, ctx.Err())
	} else {
		zlog.Warn("extract context from history failed", zap.String("session_id", sess.Uuid), zap.Error(err))
	}

	turn := &TurnRequest{
		UserID:         userID,
		SessionID:      sess.Uuid,
		DataSourceID:   sess.DataSourceId,
		Question:       question,
		Permission:     perm,
		SessionContext: sess.ContextState,
		Schema:         schema,
		History:        history,
	}
	if prev, ok := o.Contexts.LastTurn(ctx, sess.Uuid); ok {
		turn.Previous = prev
	}

	out, err := o.Processor.Process(ctx, turn)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			// 客户端已断开，不落半条助手消息
			return nil, o.abort(userID, sess, ctx.Err())
		}
		zlog.Error("query processing failed", zap.String("session_id", sess.Uuid), zap.Error(err))
		return o.finish(ctx, userID, sess, entity.Failure{Code: codeInternal, Text: "Something went wrong while answering. Please try again."}, created)
	}

	resp, err := o.finish(ctx, userID, sess, out.Payload, created)
	if err != nil {
		return nil, err
	}
	if qr, ok := out.Payload.(entity.QueryResult); ok {
		o.Contexts.RememberTurn(ctx, sess.Uuid, out.Context)
		o.carryForward(ctx, sess.Uuid, question, qr.SQL)
	}
	return resp, nil
}

// finish 落库助手消息，阶段推进到 RESPONDED
func (o *queryOrchestratorImpl) finish(ctx context.Context, userID string, sess *entity.ConversationSession, p entity.Payload, created bool) (*respond.MessageRespond, error) {
	msg, err := o.Sessions.AddMessage(ctx, sess.Uuid, entity.NewMessage(p))
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.abort(userID, sess, ctx.Err())
		}
		// 结果无法落库，会话进入 ERROR，下一条消息会新开会话
		if s, perr := o.Sessions.SetPhase(context.WithoutCancel(ctx), sess.Uuid, entity.PhaseError); perr == nil {
			o.notify(userID, s)
		}
		return nil, err
	}
	updated, err := o.Sessions.SetPhase(ctx, sess.Uuid, entity.PhaseResponded)
	if err != nil {
		return nil, err
	}
	o.notify(userID, updated)
	return respond.FromMessage(updated, msg, created), nil
}

// abort 取消后把会话退回 READY，保证下一轮还能继续
func (o *queryOrchestratorImpl) abort(userID string, sess *entity.ConversationSession, cause error) error {
	ctx := context.Background()
	if s, err := o.Sessions.SetPhase(ctx, sess.Uuid, entity.PhaseReady); err == nil {
		o.notify(userID, s)
	} else {
		zlog.Warn("reset session phase failed", zap.String("session_id", sess.Uuid), zap.Error(err))
	}
	return cause
}

// previousQuestions 最近几轮的用户问题，不含本轮
func (o *queryOrchestratorImpl) previousQuestions(ctx context.Context, sessionID, current string) ([]string, error) {
	msgs, err := o.Sessions.History(ctx, sessionID, o.HistoryWindow*2)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, o.HistoryWindow)
	for _, m := range msgs {
		if m.Role == entity.RoleUser {
			out = append(out, m.Content)
		}
	}
	// 最后一条就是本轮刚写入的问题
	if n := len(out); n > 0 && out[n-1] == current {
		out = out[:n-1]
	}
	if len(out) > o.HistoryWindow {
		out = out[len(out)-o.HistoryWindow:]
	}
	return out, nil
}

func (o *queryOrchestratorImpl) carryForward(ctx context.Context, sessionID, question, sql string) {
	patch := contextitem.SessionContext{TablesUsed: Tables(sql), FiltersApplied: Filters(sql), LastTopic: question}
	if _, err := o.Sessions.UpdateContext(ctx, sessionID, patch); err != nil {
		zlog.Warn("carry forward session context failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (o *queryOrchestratorImpl) SelectDataSource(ctx context.Context, userID, sessionID, dataSourceID string) (*entity.ConversationSession, error) {
	dataSourceID = strings.TrimSpace(dataSourceID)
	if _, ok := o.Schemas.Schema(dataSourceID); !ok {
		return nil, xerr.New(xerr.BadRequest, "数据源不存在: "+dataSourceID)
	}
	d, err := o.Sessions.GetOwnedSession(ctx, userID, sessionID, false)
	if err != nil {
		return nil, err
	}
	if d.Session.DataSourceId == dataSourceID && d.Session.Phase != entity.PhaseDiscovery && d.Session.Phase != entity.PhaseNew {
		return d.Session, nil
	}
	sess, err := o.bindDataSource(ctx, userID, sessionID, dataSourceID)
	if err != nil {
		return nil, err
	}
	if _, err := o.Sessions.AddMessage(ctx, sess.Uuid, entity.NewMessage(entity.Info{Text: fmt.Sprintf("Data source set to %s.", dataSourceID)})); err != nil {
		return nil, err
	}
	return sess, nil
}

func (o *queryOrchestratorImpl) bindDataSource(ctx context.Context, userID, sessionID, dataSourceID string) (*entity.ConversationSession, error) {
	sess, err := o.Sessions.SetDataSource(ctx, userID, sessionID, dataSourceID)
	if err != nil {
		return nil, err
	}
	// 上一轮上下文属于旧数据源
	if _, err := o.Contexts.Invalidate(ctx, "session:"+sessionID+":*"); err != nil {
		zlog.Warn("drop previous turn context failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	o.notify(userID, sess)
	return sess, nil
}

func (o *queryOrchestratorImpl) notify(userID string, sess *entity.ConversationSession) {
	if o.Notifier == nil || sess == nil {
		return
	}
	o.Notifier.PhaseChanged(userID, sess.Uuid, sess.Phase)
}
