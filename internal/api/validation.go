package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

func validateExecuteTrigger(req ExecuteTriggerRequest) error {
	if req.TradeID <= 0 {
		return fmt.Errorf("trade_id must be a positive integer")
	}

	if req.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		return fmt.Errorf("request_id must be a UUID: %v", err)
	}

	if req.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	if !domain.TriggerType(req.TriggerType).Valid() {
		return fmt.Errorf("unknown trigger_type %q", req.TriggerType)
	}

	return nil
}

func validateApproval(req ApprovalRequest) error {
	if req.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	return nil
}
