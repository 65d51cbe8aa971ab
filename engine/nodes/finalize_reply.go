package turnnode

import (
	"fmt"
	"strings"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	response := strings.TrimSpace(in.Response)
	if response == "" {
		return GraphOutput{}, fmt.Errorf("%w: turn produced no response", contractx.ErrValidation)
	}
	return GraphOutput{
		Response:    response,
		Phase:       in.FinalPhase,
		Appointment: in.Appointment,
	}, nil
}
