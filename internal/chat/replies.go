package chat

const greetingText = "Hello! I'm the taskchat assistant. I can help you manage your tasks. " +
	"Try saying 'add task buy groceries' or 'show my tasks'."

const helpText = `I can help you manage your tasks:

• Add a task: "add task buy groceries"
• Show tasks: "show my tasks" or "show completed tasks"
• Complete a task: "complete buy groceries"
• Reopen a task: "uncomplete buy groceries"
• Rename a task: "rename buy groceries to buy food"
• Delete a task: "delete buy groceries"
• Clear finished tasks: "clear completed tasks"`

const unknownText = "I'm not sure what you'd like to do. Try:\n" +
	"• 'show my tasks'\n" +
	"• 'add task [name]'\n" +
	"• 'complete [task name]'\n" +
	"• 'delete [task name]'\n" +
	"• 'help'"

const notUnderstood = "I'm not quite sure what you'd like to do. I can help you:\n" +
	"• Add tasks\n" +
	"• Show your tasks\n" +
	"• Complete or delete tasks\n\n" +
	"What would you like to do?"
