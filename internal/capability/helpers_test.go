package capability

import logx "remindd/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
