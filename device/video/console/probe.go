package console

import "titankernel/kernel/hal/multiboot"

// getFramebufferInfoFn is swapped out in tests.
var getFramebufferInfoFn = multiboot.GetFramebufferInfo
