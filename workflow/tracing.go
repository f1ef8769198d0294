package workflow

import (
	"context"

	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mmdatafocus/storefront_backend/workflow")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ActorFromContext identifies the caller for order history rows.
func ActorFromContext(ctx context.Context) models.Actor {
	userId, _ := utils.GetUserIdFromContext(ctx)
	role, _ := utils.GetRoleFromContext(ctx)
	if userId == 0 && role == "" {
		return models.SystemActor
	}
	return models.Actor{UserId: userId, Role: models.UserRole(role)}
}
